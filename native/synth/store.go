package synth

import (
	"context"
	"math"
	"strings"

	errorsmod "cosmossdk.io/errors"
)

// LedgerTx is the ledger view of one atomic transaction.
type LedgerTx interface {
	Account(id string) (Account, error)
	Asset(id string) (Asset, error)
	Transfer(from, to string, amount uint64, authorizer string) error
	Mint(assetID, to string, amount uint64, authority string) error
	Burn(assetID, from string, amount uint64, owner string) error
	SetMintAuthority(assetID, current, next string) error
}

// ConfigTx reads and stages the Config singleton.
type ConfigTx interface {
	Config() (*Config, error)
	PutConfig(cfg *Config) error
}

// Tx is a transaction spanning ledger balances and Config.
type Tx interface {
	LedgerTx
	ConfigTx
}

// Store runs closures atomically. Update commits only when fn returns nil;
// any error discards every write made through the Tx.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// RecordTx is the raw record access a backend exposes inside a transaction.
type RecordTx interface {
	GetAccount(id string) (Account, bool, error)
	PutAccount(account Account) error
	GetAsset(id string) (Asset, bool, error)
	PutAsset(asset Asset) error
	GetConfig() (*Config, bool, error)
	PutConfig(cfg *Config) error
}

// NewTx applies ledger authorization and balance rules on top of raw records.
func NewTx(records RecordTx) Tx {
	return &recordLedger{records: records}
}

type recordLedger struct {
	records RecordTx
}

func (l *recordLedger) Account(id string) (Account, error) {
	account, ok, err := l.records.GetAccount(strings.TrimSpace(id))
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, errorsmod.Wrapf(ErrAccountNotFound, "account %q", id)
	}
	return account, nil
}

func (l *recordLedger) Asset(id string) (Asset, error) {
	asset, ok, err := l.records.GetAsset(strings.TrimSpace(id))
	if err != nil {
		return Asset{}, err
	}
	if !ok {
		return Asset{}, errorsmod.Wrapf(ErrAssetNotFound, "asset %q", id)
	}
	return asset, nil
}

func (l *recordLedger) Transfer(from, to string, amount uint64, authorizer string) error {
	if amount == 0 {
		return errorsmod.Wrap(ErrInvalidAmount, "transfer amount must be positive")
	}
	if strings.TrimSpace(from) == strings.TrimSpace(to) {
		return errorsmod.Wrap(ErrInvalidAmount, "transfer to self")
	}
	src, err := l.Account(from)
	if err != nil {
		return err
	}
	dst, err := l.Account(to)
	if err != nil {
		return err
	}
	if src.Owner != authorizer {
		return errorsmod.Wrapf(ErrUnauthorized, "%s cannot move funds of %s", authorizer, src.ID)
	}
	if src.Asset != dst.Asset {
		return errorsmod.Wrapf(ErrInvalidAsset, "transfer %s -> %s crosses assets", src.ID, dst.ID)
	}
	if src.Balance < amount {
		return errorsmod.Wrapf(ErrInsufficientFunds, "%s holds %d, needs %d", src.ID, src.Balance, amount)
	}
	if dst.Balance > math.MaxUint64-amount {
		return errorsmod.Wrapf(ErrArithmeticOverflow, "credit %s", dst.ID)
	}
	src.Balance -= amount
	dst.Balance += amount
	if err := l.records.PutAccount(src); err != nil {
		return err
	}
	return l.records.PutAccount(dst)
}

func (l *recordLedger) Mint(assetID, to string, amount uint64, authority string) error {
	if amount == 0 {
		return errorsmod.Wrap(ErrInvalidAmount, "mint amount must be positive")
	}
	asset, err := l.Asset(assetID)
	if err != nil {
		return err
	}
	if asset.MintAuthority == "" || asset.MintAuthority != authority {
		return errorsmod.Wrapf(ErrUnauthorized, "%s cannot mint %s", authority, asset.ID)
	}
	dst, err := l.Account(to)
	if err != nil {
		return err
	}
	if dst.Asset != asset.ID {
		return errorsmod.Wrapf(ErrInvalidAsset, "account %s holds %s, not %s", dst.ID, dst.Asset, asset.ID)
	}
	if asset.Supply > math.MaxUint64-amount || dst.Balance > math.MaxUint64-amount {
		return errorsmod.Wrapf(ErrArithmeticOverflow, "mint %d %s", amount, asset.ID)
	}
	asset.Supply += amount
	dst.Balance += amount
	if err := l.records.PutAsset(asset); err != nil {
		return err
	}
	return l.records.PutAccount(dst)
}

func (l *recordLedger) Burn(assetID, from string, amount uint64, owner string) error {
	if amount == 0 {
		return errorsmod.Wrap(ErrInvalidAmount, "burn amount must be positive")
	}
	asset, err := l.Asset(assetID)
	if err != nil {
		return err
	}
	src, err := l.Account(from)
	if err != nil {
		return err
	}
	if src.Owner != owner {
		return errorsmod.Wrapf(ErrUnauthorized, "%s cannot burn from %s", owner, src.ID)
	}
	if src.Asset != asset.ID {
		return errorsmod.Wrapf(ErrInvalidAsset, "account %s holds %s, not %s", src.ID, src.Asset, asset.ID)
	}
	if src.Balance < amount {
		return errorsmod.Wrapf(ErrInsufficientFunds, "%s holds %d, needs %d", src.ID, src.Balance, amount)
	}
	if asset.Supply < amount {
		return errorsmod.Wrapf(ErrAccountingUnderflow, "supply of %s below %d", asset.ID, amount)
	}
	src.Balance -= amount
	asset.Supply -= amount
	if err := l.records.PutAsset(asset); err != nil {
		return err
	}
	return l.records.PutAccount(src)
}

func (l *recordLedger) SetMintAuthority(assetID, current, next string) error {
	asset, err := l.Asset(assetID)
	if err != nil {
		return err
	}
	if asset.MintAuthority != current {
		return errorsmod.Wrapf(ErrUnauthorized, "%s is not the mint authority of %s", current, asset.ID)
	}
	asset.MintAuthority = strings.TrimSpace(next)
	return l.records.PutAsset(asset)
}

func (l *recordLedger) Config() (*Config, error) {
	cfg, ok, err := l.records.GetConfig()
	if err != nil {
		return nil, err
	}
	if !ok || cfg == nil {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

func (l *recordLedger) PutConfig(cfg *Config) error {
	if cfg == nil {
		return errorsmod.Wrap(ErrNotInitialized, "nil config")
	}
	return l.records.PutConfig(cfg)
}
