package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/holiman/uint256"
)

const (
	// DefaultPriceMaxAge bounds the age of a primary feed quote.
	DefaultPriceMaxAge = 60 * time.Second
	// DefaultAuxMaxAge bounds the age of the auxiliary running value.
	DefaultAuxMaxAge = 300 * time.Second
	// DefaultConfidenceDivisor requires confidence below |mantissa|/1000.
	DefaultConfidenceDivisor = 1000

	// centsExponent moves a whole-unit price into minor fiat units.
	centsExponent = 2
)

// PriceQuote is a raw primary feed observation worth Mantissa * 10^Exponent
// fiat per whole token.
type PriceQuote struct {
	AssetID    string
	Mantissa   int64
	Exponent   int32
	Confidence uint64
	ObservedAt time.Time
}

// AuxPrice is the auxiliary running value for an asset, already in cents.
type AuxPrice struct {
	AssetID    string
	ValueCents uint64
	LastUpdate time.Time
}

// PriceGuard carries the freshness and confidence limits applied to quotes.
type PriceGuard struct {
	MaxAge            time.Duration
	EnforceStaleness  bool
	ConfidenceDivisor uint64
}

// DefaultPriceGuard returns the reference guard: 60s max age, staleness
// enforced, confidence under 0.1% of price.
func DefaultPriceGuard() PriceGuard {
	return PriceGuard{
		MaxAge:            DefaultPriceMaxAge,
		EnforceStaleness:  true,
		ConfidenceDivisor: DefaultConfidenceDivisor,
	}
}

// NormalizeQuote validates a primary feed quote and converts it to cents per
// whole token.
func NormalizeQuote(q PriceQuote, now time.Time, guard PriceGuard) (uint64, error) {
	if q.Mantissa <= 0 {
		return 0, errorsmod.Wrapf(ErrInvalidPrice, "feed %s mantissa %d", q.AssetID, q.Mantissa)
	}
	if guard.EnforceStaleness {
		if err := checkAge(q.AssetID, q.ObservedAt, now, guard.MaxAge); err != nil {
			return 0, err
		}
	}
	divisor := guard.ConfidenceDivisor
	if divisor == 0 {
		divisor = DefaultConfidenceDivisor
	}
	if q.Confidence >= uint64(q.Mantissa)/divisor {
		return 0, errorsmod.Wrapf(ErrUnreliablePrice, "feed %s confidence %d for mantissa %d", q.AssetID, q.Confidence, q.Mantissa)
	}
	exp := int64(q.Exponent) + centsExponent
	if exp > maxPow10 {
		return 0, errorsmod.Wrapf(ErrInvalidPrice, "feed %s exponent %d out of range", q.AssetID, q.Exponent)
	}
	scaled, err := ScaleByPow10(uint256.NewInt(uint64(q.Mantissa)), int32(exp))
	if err != nil {
		return 0, err
	}
	cents, ok := toUint64(scaled)
	if !ok {
		return 0, errorsmod.Wrapf(ErrArithmeticOverflow, "feed %s price exceeds 64 bits", q.AssetID)
	}
	if cents == 0 {
		return 0, errorsmod.Wrapf(ErrInvalidPrice, "feed %s price below one cent", q.AssetID)
	}
	return cents, nil
}

// NormalizeAux validates the auxiliary running value.
func NormalizeAux(p AuxPrice, now time.Time, maxAge time.Duration) (uint64, error) {
	if err := checkAge(p.AssetID, p.LastUpdate, now, maxAge); err != nil {
		return 0, err
	}
	if p.ValueCents == 0 {
		return 0, errorsmod.Wrapf(ErrInvalidPrice, "aux %s value is zero", p.AssetID)
	}
	return p.ValueCents, nil
}

func checkAge(id string, observed, now time.Time, maxAge time.Duration) error {
	if observed.IsZero() {
		return errorsmod.Wrapf(ErrStalePrice, "%s has never been observed", id)
	}
	age := now.Sub(observed)
	if maxAge > 0 && age > maxAge {
		return errorsmod.Wrapf(ErrStalePrice, "%s is %s old, max %s", id, age.Truncate(time.Second), maxAge)
	}
	return nil
}

// FeedOracle serves primary feed quotes.
type FeedOracle interface {
	GetPrice(ctx context.Context, feedID string) (PriceQuote, error)
}

// AuxOracle serves auxiliary running values.
type AuxOracle interface {
	GetAuxPrice(ctx context.Context, assetID string) (AuxPrice, error)
}

// PriceSource yields a validated price in cents per whole token.
type PriceSource interface {
	FeedID() string
	PriceCents(ctx context.Context, now time.Time) (uint64, error)
}

// LivePriceSource reads the primary feed.
type LivePriceSource struct {
	Feed   string
	Oracle FeedOracle
	Guard  PriceGuard
}

// Live builds a primary feed price source.
func Live(feedID string, oracle FeedOracle, guard PriceGuard) *LivePriceSource {
	return &LivePriceSource{Feed: strings.TrimSpace(feedID), Oracle: oracle, Guard: guard}
}

func (s *LivePriceSource) FeedID() string { return s.Feed }

func (s *LivePriceSource) PriceCents(ctx context.Context, now time.Time) (uint64, error) {
	if s.Oracle == nil {
		return 0, errorsmod.Wrapf(ErrOracleError, "feed %s has no oracle", s.Feed)
	}
	quote, err := s.Oracle.GetPrice(ctx, s.Feed)
	if err != nil {
		return 0, oracleFailure(s.Feed, err)
	}
	return NormalizeQuote(quote, now, s.Guard)
}

// AuxPriceSource reads the auxiliary running value.
type AuxPriceSource struct {
	Asset  string
	Oracle AuxOracle
	MaxAge time.Duration
}

// Aux builds an auxiliary price source.
func Aux(assetID string, oracle AuxOracle, maxAge time.Duration) *AuxPriceSource {
	if maxAge <= 0 {
		maxAge = DefaultAuxMaxAge
	}
	return &AuxPriceSource{Asset: strings.TrimSpace(assetID), Oracle: oracle, MaxAge: maxAge}
}

func (s *AuxPriceSource) FeedID() string { return s.Asset }

func (s *AuxPriceSource) PriceCents(ctx context.Context, now time.Time) (uint64, error) {
	if s.Oracle == nil {
		return 0, errorsmod.Wrapf(ErrOracleError, "aux %s has no oracle", s.Asset)
	}
	price, err := s.Oracle.GetAuxPrice(ctx, s.Asset)
	if err != nil {
		return 0, oracleFailure(s.Asset, err)
	}
	return NormalizeAux(price, now, s.MaxAge)
}

// MockPriceSource always reports a fixed price. Deployments only use it in
// development.
type MockPriceSource struct {
	Feed  string
	Cents uint64
}

// Mock builds a fixed price source.
func Mock(feedID string, cents uint64) *MockPriceSource {
	return &MockPriceSource{Feed: strings.TrimSpace(feedID), Cents: cents}
}

func (s *MockPriceSource) FeedID() string { return s.Feed }

func (s *MockPriceSource) PriceCents(context.Context, time.Time) (uint64, error) {
	if s.Cents == 0 {
		return 0, errorsmod.Wrapf(ErrInvalidPrice, "mock %s price is zero", s.Feed)
	}
	return s.Cents, nil
}

func oracleFailure(id string, err error) error {
	for _, known := range []error{ErrStalePrice, ErrUnreliablePrice, ErrInvalidPrice, ErrOracleError} {
		if errors.Is(err, known) {
			return err
		}
	}
	return errorsmod.Wrapf(ErrOracleError, "%s: %v", id, err)
}

// ErrNoQuote is returned by ManualFeed when nothing was recorded.
var ErrNoQuote = errors.New("no quote recorded")

// ManualFeed is a settable oracle serving both primary and auxiliary values.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
	aux    map[string]AuxPrice
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{quotes: make(map[string]PriceQuote), aux: make(map[string]AuxPrice)}
}

// SetQuote records the quote served for feedID.
func (m *ManualFeed) SetQuote(feedID string, quote PriceQuote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[feedKey(feedID)] = quote
}

// SetAux records the auxiliary value served for assetID.
func (m *ManualFeed) SetAux(assetID string, price AuxPrice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aux[feedKey(assetID)] = price
}

func (m *ManualFeed) GetPrice(_ context.Context, feedID string) (PriceQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	quote, ok := m.quotes[feedKey(feedID)]
	if !ok {
		return PriceQuote{}, fmt.Errorf("feed %s: %w", feedID, ErrNoQuote)
	}
	return quote, nil
}

func (m *ManualFeed) GetAuxPrice(_ context.Context, assetID string) (AuxPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.aux[feedKey(assetID)]
	if !ok {
		return AuxPrice{}, fmt.Errorf("aux %s: %w", assetID, ErrNoQuote)
	}
	return price, nil
}

func feedKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
