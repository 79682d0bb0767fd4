package synth

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"otcswap/core/events"
	nativecommon "otcswap/native/common"
	"otcswap/observability"
)

const moduleName = "synth"

// Engine coordinates mint and burn operations against a Store. Operations are
// serialized; each one runs inside a single store transaction and only
// commits when every stage, including the collateral check, succeeds.
type Engine struct {
	mu         sync.Mutex
	store      Store
	collateral PriceSource
	synthetic  PriceSource
	emitter    events.Emitter
	pauses     nativecommon.PauseView
	clock      func() time.Time
	newID      func() string
	metrics    *observability.SynthMetrics
	tracer     trace.Tracer
}

// NewEngine wires an engine to its store and the price sources of the
// collateral and synthetic assets.
func NewEngine(store Store, collateral, synthetic PriceSource) *Engine {
	return &Engine{
		store:      store,
		collateral: collateral,
		synthetic:  synthetic,
		emitter:    events.NoopEmitter{},
		clock:      time.Now,
		newID:      uuid.NewString,
		metrics:    observability.Synth(),
		tracer:     otel.Tracer("synth/engine"),
	}
}

// SetEmitter installs the sink for committed events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses installs an operator pause switch consulted before the Config gate.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// WithClock overrides the engine time source.
func (e *Engine) WithClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// WithIDGenerator overrides operation identifier generation.
func (e *Engine) WithIDGenerator(gen func() string) {
	if e == nil || gen == nil {
		return
	}
	e.newID = gen
}

// ModuleName is the key consulted on the operator pause switch.
func ModuleName() string { return moduleName }

type operation struct {
	name  string
	stage Stage
	start time.Time
	span  trace.Span
}

func (e *Engine) begin(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *operation) {
	ctx, span := e.tracer.Start(ctx, "synth."+name, trace.WithAttributes(attrs...))
	return ctx, &operation{name: name, stage: StageValidating, start: e.clock(), span: span}
}

func (op *operation) advance(stage Stage) {
	op.stage = stage
	op.span.AddEvent(stage.String())
}

func (e *Engine) abort(op *operation, err error) error {
	reason := Reason(err)
	op.span.RecordError(err)
	op.span.SetStatus(codes.Error, err.Error())
	op.span.SetAttributes(attribute.String("stage", op.stage.String()))
	e.metrics.RecordAbort(op.name, op.stage.String())
	e.metrics.Observe(op.name, e.clock().Sub(op.start), reason)
	if reason == reasonInternal {
		slog.Error("synth: operation failed", "operation", op.name, "stage", op.stage.String(), "error", err)
	}
	op.stage = StageAborted
	return err
}

func (e *Engine) commit(op *operation) {
	op.advance(StageCommitted)
	op.span.SetStatus(codes.Ok, "committed")
	e.metrics.Observe(op.name, e.clock().Sub(op.start), "")
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) checkActive(cfg *Config) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return errorsmod.Wrap(ErrPaused, err.Error())
	}
	if cfg.Paused {
		return ErrPaused
	}
	return nil
}

func (e *Engine) loadPrices(ctx context.Context, cfg *Config, now time.Time) (PriceSet, error) {
	collateral, err := readPrice(ctx, e.collateral, cfg.CollateralFeed, now)
	if err != nil {
		return PriceSet{}, err
	}
	synthetic, err := readPrice(ctx, e.synthetic, cfg.SyntheticFeed, now)
	if err != nil {
		return PriceSet{}, err
	}
	return PriceSet{CollateralCents: collateral, SyntheticCents: synthetic}, nil
}

func readPrice(ctx context.Context, source PriceSource, feed string, now time.Time) (uint64, error) {
	if source == nil {
		return 0, errorsmod.Wrapf(ErrOracleError, "no price source for %s", feed)
	}
	if !sameFeed(source.FeedID(), feed) {
		return 0, errorsmod.Wrapf(ErrOracleError, "price source %s does not serve configured feed %s", source.FeedID(), feed)
	}
	return source.PriceCents(ctx, now)
}

func sameFeed(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func requireAccount(tx LedgerTx, id, asset, owner, role string) (Account, error) {
	account, err := tx.Account(id)
	if err != nil {
		return Account{}, err
	}
	if account.Asset != asset {
		return Account{}, errorsmod.Wrapf(ErrInvalidAsset, "%s account %s holds %s, expected %s", role, account.ID, account.Asset, asset)
	}
	if account.Owner != owner {
		return Account{}, errorsmod.Wrapf(ErrInvalidAccountOwner, "%s account %s is not owned by %s", role, account.ID, owner)
	}
	return account, nil
}

func (e *Engine) checkInvariant(tx LedgerTx, cfg *Config, prices PriceSet) (Account, error) {
	treasury, err := tx.Account(cfg.TreasuryAccount)
	if err != nil {
		return Account{}, err
	}
	required, err := RequiredCollateral(cfg.TotalSyntheticOutstanding, prices.SyntheticCents, cfg.SyntheticDecimals, prices.CollateralCents, cfg.CollateralDecimals, cfg.MinCollateralBps)
	if err != nil {
		return Account{}, err
	}
	if err := CheckCollateral(treasury.Balance, required); err != nil {
		return Account{}, err
	}
	return treasury, nil
}

// Mint deposits collateral from the requester and mints synthetic units at
// the current prices, net of the protocol fee.
func (e *Engine) Mint(ctx context.Context, req MintRequest) (MintResult, error) {
	ctx, op := e.begin(ctx, "mint",
		attribute.String("requester", req.Requester),
		attribute.String("amount", strconv.FormatUint(req.Amount, 10)))
	defer op.span.End()
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	var (
		result          MintResult
		feeVault        uint64
		treasuryBalance uint64
	)
	err := e.store.Update(ctx, func(tx Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		staged := cfg.Clone()
		if req.Amount == 0 {
			return errorsmod.Wrap(ErrInvalidAmount, "deposit must be positive")
		}
		if err := e.checkActive(staged); err != nil {
			return err
		}
		source, err := requireAccount(tx, req.SourceAccount, staged.CollateralAsset, req.Requester, "source")
		if err != nil {
			return err
		}
		destination, err := requireAccount(tx, req.DestinationAccount, staged.SyntheticAsset, req.Requester, "destination")
		if err != nil {
			return err
		}
		if source.Balance < req.Amount {
			return errorsmod.Wrapf(ErrInsufficientBalance, "source holds %d, deposit %d", source.Balance, req.Amount)
		}
		authorities, err := staged.Authorities()
		if err != nil {
			return err
		}

		prices, err := e.loadPrices(ctx, staged, now)
		if err != nil {
			return err
		}
		op.advance(StagePriceLoaded)

		fee, net, err := ComputeFee(req.Amount, staged.FeeRateBps)
		if err != nil {
			return err
		}
		minted, err := Convert(net, staged.CollateralDecimals, prices.CollateralCents, staged.SyntheticDecimals, prices.SyntheticCents)
		if err != nil {
			return err
		}
		op.advance(StageConverted)

		if err := tx.Transfer(source.ID, staged.TreasuryAccount, net, req.Requester); err != nil {
			return err
		}
		if fee > 0 {
			if err := tx.Transfer(source.ID, staged.FeeAccount, fee, req.Requester); err != nil {
				return err
			}
		}
		if err := tx.Mint(staged.SyntheticAsset, destination.ID, minted, authorities.Mint.String()); err != nil {
			return err
		}
		staged.TotalSyntheticOutstanding, err = addChecked(staged.TotalSyntheticOutstanding, uint256.NewInt(minted))
		if err != nil {
			return err
		}
		op.advance(StageLedgerApplied)

		treasury, err := e.checkInvariant(tx, staged, prices)
		if err != nil {
			return err
		}
		op.advance(StageInvariantChecked)

		if err := tx.PutConfig(staged); err != nil {
			return err
		}
		if vault, err := tx.Account(staged.FeeAccount); err == nil {
			feeVault = vault.Balance
		}
		treasuryBalance = treasury.Balance
		result = MintResult{
			OperationID:      e.newID(),
			Deposited:        req.Amount,
			Fee:              fee,
			Net:              net,
			Minted:           minted,
			Prices:           prices,
			TotalOutstanding: new(uint256.Int).Set(staged.TotalSyntheticOutstanding),
			Timestamp:        now,
		}
		return nil
	})
	if err != nil {
		return MintResult{}, e.abort(op, err)
	}
	e.metrics.RecordBalances(wideFloat(result.TotalOutstanding), treasuryBalance, feeVault)
	e.commit(op)
	op.span.SetAttributes(attribute.String("operation.id", result.OperationID))
	e.emit(events.SynthMinted{
		OperationID:          result.OperationID,
		User:                 req.Requester,
		Deposited:            result.Deposited,
		Minted:               result.Minted,
		Fee:                  result.Fee,
		CollateralPriceCents: result.Prices.CollateralCents,
		SyntheticPriceCents:  result.Prices.SyntheticCents,
		TotalOutstanding:     result.TotalOutstanding.Dec(),
		Timestamp:            now.Unix(),
	})
	return result, nil
}

// Burn destroys synthetic units from the requester and redeems their
// collateral value from the treasury, net of the protocol fee.
func (e *Engine) Burn(ctx context.Context, req BurnRequest) (BurnResult, error) {
	ctx, op := e.begin(ctx, "burn",
		attribute.String("requester", req.Requester),
		attribute.String("amount", strconv.FormatUint(req.Amount, 10)))
	defer op.span.End()
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	var (
		result          BurnResult
		feeVault        uint64
		treasuryBalance uint64
	)
	err := e.store.Update(ctx, func(tx Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		staged := cfg.Clone()
		if req.Amount == 0 {
			return errorsmod.Wrap(ErrInvalidAmount, "burn must be positive")
		}
		if err := e.checkActive(staged); err != nil {
			return err
		}
		source, err := requireAccount(tx, req.SourceAccount, staged.SyntheticAsset, req.Requester, "source")
		if err != nil {
			return err
		}
		destination, err := requireAccount(tx, req.DestinationAccount, staged.CollateralAsset, req.Requester, "destination")
		if err != nil {
			return err
		}
		if source.Balance < req.Amount {
			return errorsmod.Wrapf(ErrInsufficientBalance, "source holds %d, burn %d", source.Balance, req.Amount)
		}
		authorities, err := staged.Authorities()
		if err != nil {
			return err
		}

		prices, err := e.loadPrices(ctx, staged, now)
		if err != nil {
			return err
		}
		op.advance(StagePriceLoaded)

		gross, err := Convert(req.Amount, staged.SyntheticDecimals, prices.SyntheticCents, staged.CollateralDecimals, prices.CollateralCents)
		if err != nil {
			return err
		}
		fee, net, err := ComputeFee(gross, staged.FeeRateBps)
		if err != nil {
			return err
		}
		if net == 0 {
			return errorsmod.Wrapf(ErrInvalidAmount, "redemption of %d is consumed by fees", req.Amount)
		}
		treasury, err := tx.Account(staged.TreasuryAccount)
		if err != nil {
			return err
		}
		if treasury.Balance < gross {
			return errorsmod.Wrapf(ErrInsufficientLiquidity, "treasury holds %d, redemption needs %d", treasury.Balance, gross)
		}
		op.advance(StageConverted)

		if err := tx.Burn(staged.SyntheticAsset, source.ID, req.Amount, req.Requester); err != nil {
			return err
		}
		if err := tx.Transfer(staged.TreasuryAccount, destination.ID, net, authorities.Treasury.String()); err != nil {
			return err
		}
		if fee > 0 {
			if err := tx.Transfer(staged.TreasuryAccount, staged.FeeAccount, fee, authorities.Treasury.String()); err != nil {
				return err
			}
		}
		staged.TotalSyntheticOutstanding, err = subChecked(staged.TotalSyntheticOutstanding, uint256.NewInt(req.Amount))
		if err != nil {
			return err
		}
		op.advance(StageLedgerApplied)

		treasury, err = e.checkInvariant(tx, staged, prices)
		if err != nil {
			return err
		}
		op.advance(StageInvariantChecked)

		if err := tx.PutConfig(staged); err != nil {
			return err
		}
		if vault, err := tx.Account(staged.FeeAccount); err == nil {
			feeVault = vault.Balance
		}
		treasuryBalance = treasury.Balance
		result = BurnResult{
			OperationID:      e.newID(),
			Burned:           req.Amount,
			Gross:            gross,
			Fee:              fee,
			Redeemed:         net,
			Prices:           prices,
			TotalOutstanding: new(uint256.Int).Set(staged.TotalSyntheticOutstanding),
			Timestamp:        now,
		}
		return nil
	})
	if err != nil {
		return BurnResult{}, e.abort(op, err)
	}
	e.metrics.RecordBalances(wideFloat(result.TotalOutstanding), treasuryBalance, feeVault)
	e.commit(op)
	op.span.SetAttributes(attribute.String("operation.id", result.OperationID))
	e.emit(events.SynthBurned{
		OperationID:          result.OperationID,
		User:                 req.Requester,
		Burned:               result.Burned,
		Redeemed:             result.Redeemed,
		Fee:                  result.Fee,
		CollateralPriceCents: result.Prices.CollateralCents,
		SyntheticPriceCents:  result.Prices.SyntheticCents,
		TotalOutstanding:     result.TotalOutstanding.Dec(),
		Timestamp:            now.Unix(),
	})
	return result, nil
}

// Quote runs the conversion pipeline for kind without touching balances.
func (e *Engine) Quote(ctx context.Context, kind QuoteKind, amount uint64) (Quote, error) {
	ctx, op := e.begin(ctx, "quote", attribute.String("kind", string(kind)))
	defer op.span.End()

	now := e.clock()
	var quote Quote
	err := e.store.View(ctx, func(tx Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		if amount == 0 {
			return errorsmod.Wrap(ErrInvalidAmount, "amount must be positive")
		}
		prices, err := e.loadPrices(ctx, cfg, now)
		if err != nil {
			return err
		}
		op.advance(StagePriceLoaded)
		quote = Quote{Kind: kind, Amount: amount, Prices: prices}
		switch kind {
		case QuoteMint:
			fee, net, err := ComputeFee(amount, cfg.FeeRateBps)
			if err != nil {
				return err
			}
			out, err := Convert(net, cfg.CollateralDecimals, prices.CollateralCents, cfg.SyntheticDecimals, prices.SyntheticCents)
			if err != nil {
				return err
			}
			quote.Fee, quote.Net, quote.Output = fee, net, out
		case QuoteBurn:
			gross, err := Convert(amount, cfg.SyntheticDecimals, prices.SyntheticCents, cfg.CollateralDecimals, prices.CollateralCents)
			if err != nil {
				return err
			}
			fee, net, err := ComputeFee(gross, cfg.FeeRateBps)
			if err != nil {
				return err
			}
			quote.Fee, quote.Net, quote.Output = fee, net, net
		default:
			return errorsmod.Wrapf(ErrInvalidAmount, "unknown quote kind %q", kind)
		}
		op.advance(StageConverted)
		return nil
	})
	if err != nil {
		return Quote{}, e.abort(op, err)
	}
	op.span.SetStatus(codes.Ok, "quoted")
	e.metrics.Observe(op.name, e.clock().Sub(op.start), "")
	return quote, nil
}

// Config returns a copy of the committed Config.
func (e *Engine) Config(ctx context.Context) (*Config, error) {
	var out *Config
	err := e.store.View(ctx, func(tx Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		out = cfg.Clone()
		return nil
	})
	return out, err
}

// Status reports balances, prices and the collateral position. Price failures
// are reported in Status.PriceError rather than failing the call.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	now := e.clock()
	var status Status
	err := e.store.View(ctx, func(tx Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		status.Config = cfg.Clone()
		treasury, err := tx.Account(cfg.TreasuryAccount)
		if err != nil {
			return err
		}
		status.TreasuryBalance = treasury.Balance
		if vault, err := tx.Account(cfg.FeeAccount); err == nil {
			status.FeeBalance = vault.Balance
		}
		prices, err := e.loadPrices(ctx, cfg, now)
		if err != nil {
			status.PriceError = err
			return nil
		}
		status.Prices = prices
		required, err := RequiredCollateral(cfg.TotalSyntheticOutstanding, prices.SyntheticCents, cfg.SyntheticDecimals, prices.CollateralCents, cfg.CollateralDecimals, cfg.MinCollateralBps)
		if err != nil {
			status.PriceError = err
			return nil
		}
		status.RequiredCollateral = required
		ratio, err := CollateralRatioBps(treasury.Balance, cfg.TotalSyntheticOutstanding, prices, cfg.CollateralDecimals, cfg.SyntheticDecimals)
		if err != nil {
			status.PriceError = err
			return nil
		}
		status.CollateralRatioBps = ratio
		return nil
	})
	if err != nil {
		return Status{}, err
	}
	return status, nil
}

const reasonInternal = "internal"

var reasons = []*errorsmod.Error{
	ErrInvalidAmount, ErrArithmeticOverflow, ErrPaused, ErrInvalidAsset,
	ErrInvalidAccountOwner, ErrInsufficientBalance, ErrInsufficientLiquidity,
	ErrStalePrice, ErrUnreliablePrice, ErrOracleError, ErrInsufficientCollateral,
	ErrAccountingUnderflow, ErrInvalidPrice, ErrUnauthorized, ErrInsufficientFunds,
	ErrAccountNotFound, ErrAssetNotFound, ErrInvalidFeeRate, ErrInvalidCollateralRatio,
	ErrInvalidMintAuthority, ErrAlreadyInitialized, ErrNotInitialized,
}

// Reason maps err onto the description of its registered error, or
// "internal" for anything outside the taxonomy.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, known := range reasons {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return reasonInternal
}

func wideFloat(x *uint256.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x.ToBig()).Float64()
	return f
}
