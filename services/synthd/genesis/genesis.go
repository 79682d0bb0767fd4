// Package genesis seeds an empty synthd ledger with the assets and accounts
// named in configuration.
package genesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"otcswap/native/synth"
	"otcswap/services/synthd/config"
	"otcswap/state/ledger"
)

// Resolver maps genesis placeholders onto concrete identities for a given
// admin.
type Resolver struct {
	admin       string
	authorities synth.Authorities
}

// NewResolver derives the program authorities for admin.
func NewResolver(admin string) (Resolver, error) {
	admin = strings.TrimSpace(admin)
	authorities, err := synth.DefaultAuthorities(admin)
	if err != nil {
		return Resolver{}, err
	}
	return Resolver{admin: admin, authorities: authorities}, nil
}

// Resolve returns the identity a placeholder stands for, or value itself.
func (r Resolver) Resolve(value string) string {
	switch strings.TrimSpace(value) {
	case config.AuthorityAdmin:
		return r.admin
	case config.AuthorityMint:
		return r.authorities.Mint.String()
	case config.OwnerTreasury:
		return r.authorities.Treasury.String()
	case config.OwnerFee:
		return r.authorities.Fee.String()
	default:
		return strings.TrimSpace(value)
	}
}

// ErrSyntheticBalance rejects genesis balances in the synthetic asset, which
// may only enter circulation through a collateralised mint.
var ErrSyntheticBalance = errors.New("genesis balances cannot be minted by the synthetic mint authority")

// Result counts what Seed created.
type Result struct {
	Assets   int
	Accounts int
	Funded   int
}

// Seed creates the configured assets and accounts. Existing records are left
// untouched, and balances are minted only for accounts created by this call,
// so Seed is safe to run on every start.
func Seed(ctx context.Context, store *ledger.Store, cfg config.GenesisConfig) (Result, error) {
	var result Result
	if len(cfg.Assets) == 0 && len(cfg.Accounts) == 0 {
		return result, nil
	}
	resolver, err := NewResolver(cfg.Admin)
	if err != nil {
		return result, fmt.Errorf("genesis admin: %w", err)
	}
	for _, asset := range cfg.Assets {
		created, err := assetMissing(ctx, store, asset.ID)
		if err != nil {
			return result, err
		}
		if err := store.CreateAsset(ctx, asset.ID, asset.Decimals, resolver.Resolve(asset.MintAuthority)); err != nil {
			return result, fmt.Errorf("genesis asset %s: %w", asset.ID, err)
		}
		if created {
			result.Assets++
		}
	}
	for _, account := range cfg.Accounts {
		created, err := accountMissing(ctx, store, account.ID)
		if err != nil {
			return result, err
		}
		if err := store.CreateAccount(ctx, account.ID, account.Asset, resolver.Resolve(account.Owner)); err != nil {
			return result, fmt.Errorf("genesis account %s: %w", account.ID, err)
		}
		if !created {
			continue
		}
		result.Accounts++
		if account.Balance == 0 {
			continue
		}
		err = store.Update(ctx, func(tx synth.Tx) error {
			asset, err := tx.Asset(account.Asset)
			if err != nil {
				return err
			}
			if asset.MintAuthority == resolver.authorities.Mint.String() {
				return ErrSyntheticBalance
			}
			return tx.Mint(asset.ID, account.ID, account.Balance, asset.MintAuthority)
		})
		if err != nil {
			return result, fmt.Errorf("genesis balance %s: %w", account.ID, err)
		}
		result.Funded++
	}
	return result, nil
}

func assetMissing(ctx context.Context, store *ledger.Store, id string) (bool, error) {
	err := store.View(ctx, func(tx synth.Tx) error {
		_, err := tx.Asset(id)
		return err
	})
	return missing(err)
}

func accountMissing(ctx context.Context, store *ledger.Store, id string) (bool, error) {
	err := store.View(ctx, func(tx synth.Tx) error {
		_, err := tx.Account(id)
		return err
	})
	return missing(err)
}

func missing(err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, synth.ErrAssetNotFound), errors.Is(err, synth.ErrAccountNotFound):
		return true, nil
	default:
		return false, err
	}
}
