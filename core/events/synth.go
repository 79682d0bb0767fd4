package events

import (
	"strconv"
	"strings"

	"otcswap/core/types"
)

const (
	// TypeSynthInitialized is emitted once when the deployment Config is created.
	TypeSynthInitialized = "synth.initialized"
	// TypeSynthMinted is emitted for every committed mint.
	TypeSynthMinted = "synth.minted"
	// TypeSynthBurned is emitted for every committed burn.
	TypeSynthBurned = "synth.burned"
	// TypeSynthPaused and TypeSynthUnpaused track the pause gate.
	TypeSynthPaused   = "synth.paused"
	TypeSynthUnpaused = "synth.unpaused"
	// TypeSynthParamsUpdated is emitted when fee or collateral ratio change.
	TypeSynthParamsUpdated = "synth.params_updated"
)

// SynthInitialized records the parameters fixed at initialization.
type SynthInitialized struct {
	Admin            string
	CollateralAsset  string
	SyntheticAsset   string
	TreasuryAccount  string
	FeeAccount       string
	CollateralFeed   string
	SyntheticFeed    string
	FeeRateBps       uint64
	MinCollateralBps uint64
	Timestamp        int64
}

func (SynthInitialized) EventType() string { return TypeSynthInitialized }

func (e SynthInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthInitialized,
		Attributes: map[string]string{
			"admin":            strings.TrimSpace(e.Admin),
			"collateralAsset":  strings.TrimSpace(e.CollateralAsset),
			"syntheticAsset":   strings.TrimSpace(e.SyntheticAsset),
			"treasuryAccount":  strings.TrimSpace(e.TreasuryAccount),
			"feeAccount":       strings.TrimSpace(e.FeeAccount),
			"collateralFeed":   strings.TrimSpace(e.CollateralFeed),
			"syntheticFeed":    strings.TrimSpace(e.SyntheticFeed),
			"feeRateBps":       strconv.FormatUint(e.FeeRateBps, 10),
			"minCollateralBps": strconv.FormatUint(e.MinCollateralBps, 10),
			"timestamp":        strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// SynthMinted describes a committed collateral deposit.
type SynthMinted struct {
	OperationID          string
	User                 string
	Deposited            uint64
	Minted               uint64
	Fee                  uint64
	CollateralPriceCents uint64
	SyntheticPriceCents  uint64
	TotalOutstanding     string
	Timestamp            int64
}

func (SynthMinted) EventType() string { return TypeSynthMinted }

func (e SynthMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthMinted,
		Attributes: map[string]string{
			"operationId":          strings.TrimSpace(e.OperationID),
			"user":                 strings.TrimSpace(e.User),
			"deposited":            strconv.FormatUint(e.Deposited, 10),
			"minted":               strconv.FormatUint(e.Minted, 10),
			"fee":                  strconv.FormatUint(e.Fee, 10),
			"collateralPriceCents": strconv.FormatUint(e.CollateralPriceCents, 10),
			"syntheticPriceCents":  strconv.FormatUint(e.SyntheticPriceCents, 10),
			"totalOutstanding":     outstanding(e.TotalOutstanding),
			"timestamp":            strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// SynthBurned describes a committed redemption.
type SynthBurned struct {
	OperationID          string
	User                 string
	Burned               uint64
	Redeemed             uint64
	Fee                  uint64
	CollateralPriceCents uint64
	SyntheticPriceCents  uint64
	TotalOutstanding     string
	Timestamp            int64
}

func (SynthBurned) EventType() string { return TypeSynthBurned }

func (e SynthBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthBurned,
		Attributes: map[string]string{
			"operationId":          strings.TrimSpace(e.OperationID),
			"user":                 strings.TrimSpace(e.User),
			"burned":               strconv.FormatUint(e.Burned, 10),
			"redeemed":             strconv.FormatUint(e.Redeemed, 10),
			"fee":                  strconv.FormatUint(e.Fee, 10),
			"collateralPriceCents": strconv.FormatUint(e.CollateralPriceCents, 10),
			"syntheticPriceCents":  strconv.FormatUint(e.SyntheticPriceCents, 10),
			"totalOutstanding":     outstanding(e.TotalOutstanding),
			"timestamp":            strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// SynthPauseChanged records a pause or unpause by the admin.
type SynthPauseChanged struct {
	Admin     string
	Paused    bool
	Timestamp int64
}

func (e SynthPauseChanged) EventType() string {
	if e.Paused {
		return TypeSynthPaused
	}
	return TypeSynthUnpaused
}

func (e SynthPauseChanged) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"admin":     strings.TrimSpace(e.Admin),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// SynthParamsUpdated records new fee and collateral parameters.
type SynthParamsUpdated struct {
	Admin            string
	FeeRateBps       uint64
	MinCollateralBps uint64
	Timestamp        int64
}

func (SynthParamsUpdated) EventType() string { return TypeSynthParamsUpdated }

func (e SynthParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthParamsUpdated,
		Attributes: map[string]string{
			"admin":            strings.TrimSpace(e.Admin),
			"feeRateBps":       strconv.FormatUint(e.FeeRateBps, 10),
			"minCollateralBps": strconv.FormatUint(e.MinCollateralBps, 10),
			"timestamp":        strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

func outstanding(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
