package synth

import (
	"context"
	"errors"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"otcswap/core/events"
)

// InitParams fixes the deployment parameters written once by Initialize.
type InitParams struct {
	Admin            string
	CollateralAsset  string
	SyntheticAsset   string
	TreasuryAccount  string
	FeeAccount       string
	CollateralFeed   string
	SyntheticFeed    string
	FeeRateBps       uint64
	MinCollateralBps uint64
}

func validateFeeRate(bps uint64) error {
	if bps > MaxFeeRateBps {
		return errorsmod.Wrapf(ErrInvalidFeeRate, "%d bps exceeds %d", bps, MaxFeeRateBps)
	}
	return nil
}

func validateCollateralRatio(bps uint64) error {
	if bps < MinCollateralBps {
		return errorsmod.Wrapf(ErrInvalidCollateralRatio, "%d bps below %d", bps, MinCollateralBps)
	}
	return nil
}

// Initialize creates the Config singleton and hands the synthetic asset's
// mint authority to the program.
func (e *Engine) Initialize(ctx context.Context, params InitParams) (*Config, error) {
	ctx, op := e.begin(ctx, "initialize", attribute.String("admin", params.Admin))
	defer op.span.End()
	e.mu.Lock()
	defer e.mu.Unlock()

	params.Admin = strings.TrimSpace(params.Admin)
	if err := validateFeeRate(params.FeeRateBps); err != nil {
		return nil, e.abort(op, err)
	}
	if err := validateCollateralRatio(params.MinCollateralBps); err != nil {
		return nil, e.abort(op, err)
	}
	authorities, err := DefaultAuthorities(params.Admin)
	if err != nil {
		return nil, e.abort(op, err)
	}
	if err := e.checkSources(params.CollateralFeed, params.SyntheticFeed); err != nil {
		return nil, e.abort(op, err)
	}

	now := e.clock()
	var created *Config
	err = e.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.Config(); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, ErrNotInitialized) {
			return err
		}
		collateral, err := tx.Asset(params.CollateralAsset)
		if err != nil {
			return errorsmod.Wrapf(ErrInvalidAsset, "collateral asset: %v", err)
		}
		synthetic, err := tx.Asset(params.SyntheticAsset)
		if err != nil {
			return errorsmod.Wrapf(ErrInvalidAsset, "synthetic asset: %v", err)
		}
		if collateral.ID == synthetic.ID {
			return errorsmod.Wrap(ErrInvalidAsset, "collateral and synthetic assets must differ")
		}
		if strings.TrimSpace(params.TreasuryAccount) == strings.TrimSpace(params.FeeAccount) {
			return errorsmod.Wrap(ErrInvalidAsset, "treasury and fee accounts must differ")
		}
		if _, err := requireAccount(tx, params.TreasuryAccount, collateral.ID, authorities.Treasury.String(), "treasury"); err != nil {
			return err
		}
		if _, err := requireAccount(tx, params.FeeAccount, collateral.ID, authorities.Fee.String(), "fee"); err != nil {
			return err
		}
		if synthetic.MintAuthority != params.Admin {
			return errorsmod.Wrapf(ErrInvalidMintAuthority, "%s is minted by %s", synthetic.ID, synthetic.MintAuthority)
		}
		if err := tx.SetMintAuthority(synthetic.ID, params.Admin, authorities.Mint.String()); err != nil {
			return err
		}
		created = &Config{
			AdminAuthority:            params.Admin,
			CollateralAsset:           collateral.ID,
			SyntheticAsset:            synthetic.ID,
			TreasuryAccount:           strings.TrimSpace(params.TreasuryAccount),
			FeeAccount:                strings.TrimSpace(params.FeeAccount),
			CollateralFeed:            strings.TrimSpace(params.CollateralFeed),
			SyntheticFeed:             strings.TrimSpace(params.SyntheticFeed),
			FeeRateBps:                params.FeeRateBps,
			MinCollateralBps:          params.MinCollateralBps,
			CollateralDecimals:        collateral.Decimals,
			SyntheticDecimals:         synthetic.Decimals,
			TotalSyntheticOutstanding: new(uint256.Int),
			MintAuthorityNonce:        DefaultAuthorityNonce,
			TreasuryAuthorityNonce:    DefaultAuthorityNonce,
			FeeAuthorityNonce:         DefaultAuthorityNonce,
			CreatedAt:                 now.UTC(),
		}
		return tx.PutConfig(created)
	})
	if err != nil {
		return nil, e.abort(op, err)
	}
	e.commit(op)
	e.metrics.RecordPaused(false)
	e.emit(events.SynthInitialized{
		Admin:            created.AdminAuthority,
		CollateralAsset:  created.CollateralAsset,
		SyntheticAsset:   created.SyntheticAsset,
		TreasuryAccount:  created.TreasuryAccount,
		FeeAccount:       created.FeeAccount,
		CollateralFeed:   created.CollateralFeed,
		SyntheticFeed:    created.SyntheticFeed,
		FeeRateBps:       created.FeeRateBps,
		MinCollateralBps: created.MinCollateralBps,
		Timestamp:        now.Unix(),
	})
	return created.Clone(), nil
}

func (e *Engine) checkSources(collateralFeed, syntheticFeed string) error {
	if strings.TrimSpace(collateralFeed) == "" || strings.TrimSpace(syntheticFeed) == "" {
		return errorsmod.Wrap(ErrOracleError, "feed identifiers required")
	}
	if e.collateral != nil && !sameFeed(e.collateral.FeedID(), collateralFeed) {
		return errorsmod.Wrapf(ErrOracleError, "collateral source serves %s, not %s", e.collateral.FeedID(), collateralFeed)
	}
	if e.synthetic != nil && !sameFeed(e.synthetic.FeedID(), syntheticFeed) {
		return errorsmod.Wrapf(ErrOracleError, "synthetic source serves %s, not %s", e.synthetic.FeedID(), syntheticFeed)
	}
	return nil
}

// Pause blocks mint and burn until Unpause.
func (e *Engine) Pause(ctx context.Context, admin string) error {
	return e.setPaused(ctx, admin, true)
}

// Unpause reopens mint and burn.
func (e *Engine) Unpause(ctx context.Context, admin string) error {
	return e.setPaused(ctx, admin, false)
}

func (e *Engine) setPaused(ctx context.Context, admin string, paused bool) error {
	name := "unpause"
	if paused {
		name = "pause"
	}
	now := e.clock()
	err := e.updateConfig(ctx, name, admin, func(cfg *Config) error {
		cfg.Paused = paused
		return nil
	})
	if err != nil {
		return err
	}
	e.metrics.RecordPaused(paused)
	e.emit(events.SynthPauseChanged{Admin: strings.TrimSpace(admin), Paused: paused, Timestamp: now.Unix()})
	return nil
}

// SetFeeRate updates the protocol fee charged on mint and burn.
func (e *Engine) SetFeeRate(ctx context.Context, admin string, bps uint64) error {
	if err := validateFeeRate(bps); err != nil {
		return err
	}
	return e.updateParams(ctx, "set_fee_rate", admin, func(cfg *Config) {
		cfg.FeeRateBps = bps
	})
}

// SetMinCollateralBps updates the minimum collateral ratio.
func (e *Engine) SetMinCollateralBps(ctx context.Context, admin string, bps uint64) error {
	if err := validateCollateralRatio(bps); err != nil {
		return err
	}
	return e.updateParams(ctx, "set_min_collateral", admin, func(cfg *Config) {
		cfg.MinCollateralBps = bps
	})
}

func (e *Engine) updateParams(ctx context.Context, name, admin string, apply func(*Config)) error {
	now := e.clock()
	var updated *Config
	err := e.updateConfig(ctx, name, admin, func(cfg *Config) error {
		apply(cfg)
		updated = cfg.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(events.SynthParamsUpdated{
		Admin:            updated.AdminAuthority,
		FeeRateBps:       updated.FeeRateBps,
		MinCollateralBps: updated.MinCollateralBps,
		Timestamp:        now.Unix(),
	})
	return nil
}

func (e *Engine) updateConfig(ctx context.Context, name, admin string, apply func(*Config) error) error {
	ctx, op := e.begin(ctx, name, attribute.String("admin", admin))
	defer op.span.End()
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.store.Update(ctx, func(tx Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		if strings.TrimSpace(admin) != cfg.AdminAuthority {
			return errorsmod.Wrapf(ErrUnauthorized, "%s is not the admin", admin)
		}
		staged := cfg.Clone()
		if err := apply(staged); err != nil {
			return err
		}
		return tx.PutConfig(staged)
	})
	if err != nil {
		return e.abort(op, err)
	}
	op.span.SetStatus(codes.Ok, "updated")
	e.metrics.Observe(op.name, e.clock().Sub(op.start), "")
	return nil
}
