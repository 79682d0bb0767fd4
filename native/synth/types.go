package synth

import (
	"time"

	"github.com/holiman/uint256"
)

// Config is the singleton deployment state read and staged by every
// operation.
type Config struct {
	AdminAuthority            string
	CollateralAsset           string
	SyntheticAsset            string
	TreasuryAccount           string
	FeeAccount                string
	CollateralFeed            string
	SyntheticFeed             string
	FeeRateBps                uint64
	MinCollateralBps          uint64
	CollateralDecimals        uint8
	SyntheticDecimals         uint8
	Paused                    bool
	TotalSyntheticOutstanding *uint256.Int
	MintAuthorityNonce        uint8
	TreasuryAuthorityNonce    uint8
	FeeAuthorityNonce         uint8
	CreatedAt                 time.Time
}

// Clone returns a deep copy suitable for staging.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.TotalSyntheticOutstanding != nil {
		clone.TotalSyntheticOutstanding = new(uint256.Int).Set(c.TotalSyntheticOutstanding)
	} else {
		clone.TotalSyntheticOutstanding = new(uint256.Int)
	}
	return &clone
}

// Authorities re-derives the program authorities from the stored nonces.
func (c *Config) Authorities() (Authorities, error) {
	return DeriveAuthorities(c.AdminAuthority, c.MintAuthorityNonce, c.TreasuryAuthorityNonce, c.FeeAuthorityNonce)
}

// Account is a ledger token balance.
type Account struct {
	ID      string
	Owner   string
	Asset   string
	Balance uint64
}

// Asset describes a ledger token.
type Asset struct {
	ID            string
	Decimals      uint8
	MintAuthority string
	Supply        uint64
}

// MintRequest deposits collateral to mint synthetic units.
type MintRequest struct {
	Requester          string
	Amount             uint64
	SourceAccount      string
	DestinationAccount string
}

// BurnRequest burns synthetic units to redeem collateral.
type BurnRequest struct {
	Requester          string
	Amount             uint64
	SourceAccount      string
	DestinationAccount string
}

// MintResult reports a committed mint.
type MintResult struct {
	OperationID      string
	Deposited        uint64
	Fee              uint64
	Net              uint64
	Minted           uint64
	Prices           PriceSet
	TotalOutstanding *uint256.Int
	Timestamp        time.Time
}

// BurnResult reports a committed burn.
type BurnResult struct {
	OperationID      string
	Burned           uint64
	Gross            uint64
	Fee              uint64
	Redeemed         uint64
	Prices           PriceSet
	TotalOutstanding *uint256.Int
	Timestamp        time.Time
}

// QuoteKind selects the direction of a dry-run quote.
type QuoteKind string

const (
	QuoteMint QuoteKind = "mint"
	QuoteBurn QuoteKind = "burn"
)

// Quote is the outcome of running the conversion pipeline without touching
// the ledger.
type Quote struct {
	Kind   QuoteKind
	Amount uint64
	Fee    uint64
	Net    uint64
	Output uint64
	Prices PriceSet
}

// Status summarizes solvency for operators.
type Status struct {
	Config             *Config
	TreasuryBalance    uint64
	FeeBalance         uint64
	Prices             PriceSet
	RequiredCollateral *uint256.Int
	CollateralRatioBps *uint256.Int
	PriceError         error
}

// Stage names a step of the mint/burn state machine.
type Stage int

const (
	StageValidating Stage = iota
	StagePriceLoaded
	StageConverted
	StageLedgerApplied
	StageInvariantChecked
	StageCommitted
	StageAborted
)

func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "validating"
	case StagePriceLoaded:
		return "price_loaded"
	case StageConverted:
		return "converted"
	case StageLedgerApplied:
		return "ledger_applied"
	case StageInvariantChecked:
		return "invariant_checked"
	case StageCommitted:
		return "committed"
	case StageAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
