package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	bolt "go.etcd.io/bbolt"

	"otcswap/native/synth"
)

var (
	bucketAccounts = []byte("accounts")
	bucketAssets   = []byte("assets")
	bucketConfig   = []byte("config")

	configKey = []byte("synth")

	// ErrExists is returned when bootstrapping a record that is already present
	// with different parameters.
	ErrExists = errors.New("ledger: record already exists")
)

// Store persists ledger balances and the synth Config in a single BoltDB file
// so that one Bolt transaction covers every write of an operation.
type Store struct {
	db *bolt.DB
}

var _ synth.Store = (*Store)(nil)

type accountRecord struct {
	ID      string
	Owner   string
	Asset   string
	Balance uint64
}

type assetRecord struct {
	ID            string
	Decimals      uint8
	MintAuthority string
	Supply        uint64
}

type configRecord struct {
	AdminAuthority         string
	CollateralAsset        string
	SyntheticAsset         string
	TreasuryAccount        string
	FeeAccount             string
	CollateralFeed         string
	SyntheticFeed          string
	FeeRateBps             uint64
	MinCollateralBps       uint64
	CollateralDecimals     uint8
	SyntheticDecimals      uint8
	Paused                 bool
	TotalOutstanding       *big.Int
	MintAuthorityNonce     uint8
	TreasuryAuthorityNonce uint8
	FeeAuthorityNonce      uint8
	CreatedAt              uint64
}

// Open initialises (and migrates) the BoltDB-backed ledger at path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path required")
	}
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAccounts, bucketAssets, bucketConfig} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Update runs fn inside a writable Bolt transaction. Bolt rolls the
// transaction back when fn fails.
func (s *Store) Update(ctx context.Context, fn func(synth.Tx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(synth.NewTx(&records{tx: tx}))
	})
}

// View runs fn inside a read-only Bolt transaction.
func (s *Store) View(ctx context.Context, fn func(synth.Tx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(synth.NewTx(&records{tx: tx}))
	})
}

// CreateAsset registers a token. Re-registering with the same decimals is a
// no-op so bootstrap can run on every start.
func (s *Store) CreateAsset(ctx context.Context, id string, decimals uint8, mintAuthority string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("asset id required")
	}
	return s.bootstrap(ctx, func(r *records) error {
		existing, ok, err := r.GetAsset(id)
		if err != nil {
			return err
		}
		if ok {
			if existing.Decimals != decimals {
				return fmt.Errorf("asset %s: %w", id, ErrExists)
			}
			return nil
		}
		return r.PutAsset(synth.Asset{ID: id, Decimals: decimals, MintAuthority: strings.TrimSpace(mintAuthority)})
	})
}

// CreateAccount opens an empty balance. Re-creating with the same asset and
// owner is a no-op.
func (s *Store) CreateAccount(ctx context.Context, id, asset, owner string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("account id required")
	}
	asset = strings.TrimSpace(asset)
	owner = strings.TrimSpace(owner)
	return s.bootstrap(ctx, func(r *records) error {
		if _, ok, err := r.GetAsset(asset); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("account %s: %w", id, synth.ErrAssetNotFound)
		}
		existing, ok, err := r.GetAccount(id)
		if err != nil {
			return err
		}
		if ok {
			if existing.Asset != asset || existing.Owner != owner {
				return fmt.Errorf("account %s: %w", id, ErrExists)
			}
			return nil
		}
		return r.PutAccount(synth.Account{ID: id, Asset: asset, Owner: owner})
	})
}

// Accounts lists every account in key order.
func (s *Store) Accounts(ctx context.Context) ([]synth.Account, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ledger not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []synth.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(_, raw []byte) error {
			var rec accountRecord
			if err := rlp.DecodeBytes(raw, &rec); err != nil {
				return fmt.Errorf("decode account: %w", err)
			}
			out = append(out, synth.Account(rec))
			return nil
		})
	})
	return out, err
}

func (s *Store) bootstrap(ctx context.Context, fn func(*records) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&records{tx: tx})
	})
}

// records implements synth.RecordTx over one Bolt transaction.
type records struct {
	tx *bolt.Tx
}

func (r *records) GetAccount(id string) (synth.Account, bool, error) {
	raw := r.tx.Bucket(bucketAccounts).Get([]byte(id))
	if raw == nil {
		return synth.Account{}, false, nil
	}
	var rec accountRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return synth.Account{}, false, fmt.Errorf("decode account %s: %w", id, err)
	}
	return synth.Account(rec), true, nil
}

func (r *records) PutAccount(account synth.Account) error {
	encoded, err := rlp.EncodeToBytes(accountRecord(account))
	if err != nil {
		return fmt.Errorf("encode account %s: %w", account.ID, err)
	}
	return r.tx.Bucket(bucketAccounts).Put([]byte(account.ID), encoded)
}

func (r *records) GetAsset(id string) (synth.Asset, bool, error) {
	raw := r.tx.Bucket(bucketAssets).Get([]byte(id))
	if raw == nil {
		return synth.Asset{}, false, nil
	}
	var rec assetRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return synth.Asset{}, false, fmt.Errorf("decode asset %s: %w", id, err)
	}
	return synth.Asset(rec), true, nil
}

func (r *records) PutAsset(asset synth.Asset) error {
	encoded, err := rlp.EncodeToBytes(assetRecord(asset))
	if err != nil {
		return fmt.Errorf("encode asset %s: %w", asset.ID, err)
	}
	return r.tx.Bucket(bucketAssets).Put([]byte(asset.ID), encoded)
}

func (r *records) GetConfig() (*synth.Config, bool, error) {
	raw := r.tx.Bucket(bucketConfig).Get(configKey)
	if raw == nil {
		return nil, false, nil
	}
	var rec configRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode config: %w", err)
	}
	total := new(uint256.Int)
	if rec.TotalOutstanding != nil {
		if overflow := total.SetFromBig(rec.TotalOutstanding); overflow {
			return nil, false, fmt.Errorf("decode config: outstanding exceeds 256 bits")
		}
	}
	return &synth.Config{
		AdminAuthority:            rec.AdminAuthority,
		CollateralAsset:           rec.CollateralAsset,
		SyntheticAsset:            rec.SyntheticAsset,
		TreasuryAccount:           rec.TreasuryAccount,
		FeeAccount:                rec.FeeAccount,
		CollateralFeed:            rec.CollateralFeed,
		SyntheticFeed:             rec.SyntheticFeed,
		FeeRateBps:                rec.FeeRateBps,
		MinCollateralBps:          rec.MinCollateralBps,
		CollateralDecimals:        rec.CollateralDecimals,
		SyntheticDecimals:         rec.SyntheticDecimals,
		Paused:                    rec.Paused,
		TotalSyntheticOutstanding: total,
		MintAuthorityNonce:        rec.MintAuthorityNonce,
		TreasuryAuthorityNonce:    rec.TreasuryAuthorityNonce,
		FeeAuthorityNonce:         rec.FeeAuthorityNonce,
		CreatedAt:                 time.Unix(int64(rec.CreatedAt), 0).UTC(),
	}, true, nil
}

func (r *records) PutConfig(cfg *synth.Config) error {
	total := new(big.Int)
	if cfg.TotalSyntheticOutstanding != nil {
		total = cfg.TotalSyntheticOutstanding.ToBig()
	}
	var created uint64
	if !cfg.CreatedAt.IsZero() && cfg.CreatedAt.Unix() > 0 {
		created = uint64(cfg.CreatedAt.Unix())
	}
	encoded, err := rlp.EncodeToBytes(configRecord{
		AdminAuthority:         cfg.AdminAuthority,
		CollateralAsset:        cfg.CollateralAsset,
		SyntheticAsset:         cfg.SyntheticAsset,
		TreasuryAccount:        cfg.TreasuryAccount,
		FeeAccount:             cfg.FeeAccount,
		CollateralFeed:         cfg.CollateralFeed,
		SyntheticFeed:          cfg.SyntheticFeed,
		FeeRateBps:             cfg.FeeRateBps,
		MinCollateralBps:       cfg.MinCollateralBps,
		CollateralDecimals:     cfg.CollateralDecimals,
		SyntheticDecimals:      cfg.SyntheticDecimals,
		Paused:                 cfg.Paused,
		TotalOutstanding:       total,
		MintAuthorityNonce:     cfg.MintAuthorityNonce,
		TreasuryAuthorityNonce: cfg.TreasuryAuthorityNonce,
		FeeAuthorityNonce:      cfg.FeeAuthorityNonce,
		CreatedAt:              created,
	})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return r.tx.Bucket(bucketConfig).Put(configKey, encoded)
}
