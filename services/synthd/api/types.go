// Package api holds the wire types shared by synthd and its clients.
package api

import (
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"otcswap/native/synth"
	"otcswap/services/synthd/storage"
)

const (
	// KindMint and KindBurn name the signed user operations.
	KindMint = "mint"
	KindBurn = "burn"
)

// OperationRequest is a signed mint or burn submitted by the account owner.
type OperationRequest struct {
	Requester          string `json:"requester"`
	Amount             uint64 `json:"amount,string"`
	SourceAccount      string `json:"source_account"`
	DestinationAccount string `json:"destination_account"`
	Nonce              string `json:"nonce"`
	Timestamp          int64  `json:"timestamp"`
	Signature          string `json:"signature"`
}

// QuoteRequest asks for a dry-run of the conversion pipeline.
type QuoteRequest struct {
	Amount uint64 `json:"amount,string"`
}

// InitializeRequest carries the admin initialize parameters. The admin
// identity comes from the bearer token.
type InitializeRequest struct {
	CollateralAsset  string `json:"collateral_asset"`
	SyntheticAsset   string `json:"synthetic_asset"`
	TreasuryAccount  string `json:"treasury_account"`
	FeeAccount       string `json:"fee_account"`
	CollateralFeed   string `json:"collateral_feed"`
	SyntheticFeed    string `json:"synthetic_feed"`
	FeeRateBps       uint64 `json:"fee_rate_bps"`
	MinCollateralBps uint64 `json:"min_collateral_bps"`
}

// ParamRequest updates a single basis point parameter.
type ParamRequest struct {
	Bps uint64 `json:"bps"`
}

// Amount is a base-unit integer with its human readable rendering.
type Amount struct {
	Units   string `json:"units"`
	Display string `json:"display"`
}

// Prices reports both feed prices in cents and dollars.
type Prices struct {
	CollateralCents uint64 `json:"collateral_cents"`
	SyntheticCents  uint64 `json:"synthetic_cents"`
	CollateralUSD   string `json:"collateral_usd"`
	SyntheticUSD    string `json:"synthetic_usd"`
}

// MintResponse reports a committed mint.
type MintResponse struct {
	OperationID      string    `json:"operation_id"`
	Deposited        Amount    `json:"deposited"`
	Fee              Amount    `json:"fee"`
	Net              Amount    `json:"net"`
	Minted           Amount    `json:"minted"`
	Prices           Prices    `json:"prices"`
	TotalOutstanding Amount    `json:"total_outstanding"`
	Timestamp        time.Time `json:"timestamp"`
}

// BurnResponse reports a committed burn.
type BurnResponse struct {
	OperationID      string    `json:"operation_id"`
	Burned           Amount    `json:"burned"`
	Gross            Amount    `json:"gross"`
	Fee              Amount    `json:"fee"`
	Redeemed         Amount    `json:"redeemed"`
	Prices           Prices    `json:"prices"`
	TotalOutstanding Amount    `json:"total_outstanding"`
	Timestamp        time.Time `json:"timestamp"`
}

// QuoteResponse reports a dry-run.
type QuoteResponse struct {
	Kind   string `json:"kind"`
	Amount Amount `json:"amount"`
	Fee    Amount `json:"fee"`
	Net    Amount `json:"net"`
	Output Amount `json:"output"`
	Prices Prices `json:"prices"`
}

// ConfigResponse mirrors the committed engine Config.
type ConfigResponse struct {
	AdminAuthority     string    `json:"admin_authority"`
	MintAuthority      string    `json:"mint_authority"`
	TreasuryAuthority  string    `json:"treasury_authority"`
	FeeAuthority       string    `json:"fee_authority"`
	CollateralAsset    string    `json:"collateral_asset"`
	SyntheticAsset     string    `json:"synthetic_asset"`
	TreasuryAccount    string    `json:"treasury_account"`
	FeeAccount         string    `json:"fee_account"`
	CollateralFeed     string    `json:"collateral_feed"`
	SyntheticFeed      string    `json:"synthetic_feed"`
	FeeRateBps         uint64    `json:"fee_rate_bps"`
	MinCollateralBps   uint64    `json:"min_collateral_bps"`
	CollateralDecimals uint8     `json:"collateral_decimals"`
	SyntheticDecimals  uint8     `json:"synthetic_decimals"`
	Paused             bool      `json:"paused"`
	TotalOutstanding   Amount    `json:"total_outstanding"`
	CreatedAt          time.Time `json:"created_at"`
}

// StatusResponse summarizes solvency.
type StatusResponse struct {
	Config             ConfigResponse `json:"config"`
	OperatorPaused     bool           `json:"operator_paused"`
	TreasuryBalance    Amount         `json:"treasury_balance"`
	FeeBalance         Amount         `json:"fee_balance"`
	Prices             *Prices        `json:"prices,omitempty"`
	RequiredCollateral *Amount        `json:"required_collateral,omitempty"`
	CollateralRatioBps string         `json:"collateral_ratio_bps,omitempty"`
	PriceError         *ErrorResponse `json:"price_error,omitempty"`
}

// EventsResponse is a page of the event journal.
type EventsResponse struct {
	Events []storage.EventRecord `json:"events"`
	Next   int64                 `json:"next"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace"`
	TraceID   string `json:"trace_id,omitempty"`
}

// NewAmount renders units with the asset's decimals.
func NewAmount(units uint64, decimals uint8) Amount {
	return NewWideAmount(new(big.Int).SetUint64(units), decimals)
}

// NewWideAmount renders an arbitrary precision unit count.
func NewWideAmount(units *big.Int, decimals uint8) Amount {
	if units == nil {
		units = new(big.Int)
	}
	return Amount{
		Units:   units.String(),
		Display: decimal.NewFromBigInt(units, -int32(decimals)).StringFixed(int32(decimals)),
	}
}

func wideAmount(units *uint256.Int, decimals uint8) Amount {
	if units == nil {
		return NewWideAmount(nil, decimals)
	}
	return NewWideAmount(units.ToBig(), decimals)
}

// NewPrices renders a price pair.
func NewPrices(p synth.PriceSet) Prices {
	return Prices{
		CollateralCents: p.CollateralCents,
		SyntheticCents:  p.SyntheticCents,
		CollateralUSD:   centsToUSD(p.CollateralCents),
		SyntheticUSD:    centsToUSD(p.SyntheticCents),
	}
}

func centsToUSD(cents uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(cents), -2).StringFixed(2)
}

// NewConfigResponse renders cfg together with its derived authorities.
func NewConfigResponse(cfg *synth.Config) ConfigResponse {
	if cfg == nil {
		return ConfigResponse{}
	}
	out := ConfigResponse{
		AdminAuthority:     cfg.AdminAuthority,
		CollateralAsset:    cfg.CollateralAsset,
		SyntheticAsset:     cfg.SyntheticAsset,
		TreasuryAccount:    cfg.TreasuryAccount,
		FeeAccount:         cfg.FeeAccount,
		CollateralFeed:     cfg.CollateralFeed,
		SyntheticFeed:      cfg.SyntheticFeed,
		FeeRateBps:         cfg.FeeRateBps,
		MinCollateralBps:   cfg.MinCollateralBps,
		CollateralDecimals: cfg.CollateralDecimals,
		SyntheticDecimals:  cfg.SyntheticDecimals,
		Paused:             cfg.Paused,
		TotalOutstanding:   wideAmount(cfg.TotalSyntheticOutstanding, cfg.SyntheticDecimals),
		CreatedAt:          cfg.CreatedAt,
	}
	if auth, err := cfg.Authorities(); err == nil {
		out.MintAuthority = auth.Mint.String()
		out.TreasuryAuthority = auth.Treasury.String()
		out.FeeAuthority = auth.Fee.String()
	}
	return out
}

// NewMintResponse renders a mint result.
func NewMintResponse(res synth.MintResult, cfg *synth.Config) MintResponse {
	return MintResponse{
		OperationID:      res.OperationID,
		Deposited:        NewAmount(res.Deposited, cfg.CollateralDecimals),
		Fee:              NewAmount(res.Fee, cfg.CollateralDecimals),
		Net:              NewAmount(res.Net, cfg.CollateralDecimals),
		Minted:           NewAmount(res.Minted, cfg.SyntheticDecimals),
		Prices:           NewPrices(res.Prices),
		TotalOutstanding: wideAmount(res.TotalOutstanding, cfg.SyntheticDecimals),
		Timestamp:        res.Timestamp,
	}
}

// NewBurnResponse renders a burn result.
func NewBurnResponse(res synth.BurnResult, cfg *synth.Config) BurnResponse {
	return BurnResponse{
		OperationID:      res.OperationID,
		Burned:           NewAmount(res.Burned, cfg.SyntheticDecimals),
		Gross:            NewAmount(res.Gross, cfg.CollateralDecimals),
		Fee:              NewAmount(res.Fee, cfg.CollateralDecimals),
		Redeemed:         NewAmount(res.Redeemed, cfg.CollateralDecimals),
		Prices:           NewPrices(res.Prices),
		TotalOutstanding: wideAmount(res.TotalOutstanding, cfg.SyntheticDecimals),
		Timestamp:        res.Timestamp,
	}
}

// NewQuoteResponse renders a quote. Mint quotes take collateral in and give
// synthetic out; burn quotes the reverse.
func NewQuoteResponse(q synth.Quote, cfg *synth.Config) QuoteResponse {
	in, out := cfg.CollateralDecimals, cfg.SyntheticDecimals
	if q.Kind == synth.QuoteBurn {
		in, out = cfg.SyntheticDecimals, cfg.CollateralDecimals
	}
	return QuoteResponse{
		Kind:   string(q.Kind),
		Amount: NewAmount(q.Amount, in),
		Fee:    NewAmount(q.Fee, cfg.CollateralDecimals),
		Net:    NewAmount(q.Net, cfg.CollateralDecimals),
		Output: NewAmount(q.Output, out),
		Prices: NewPrices(q.Prices),
	}
}
