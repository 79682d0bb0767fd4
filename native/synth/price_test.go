package synth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNormalizeQuote(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	guard := DefaultPriceGuard()
	base := PriceQuote{AssetID: "btc-usd", Mantissa: 6_000_000_000_000, Exponent: -8, Confidence: 1_000_000, ObservedAt: now}

	cents, err := NormalizeQuote(base, now, guard)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cents != 6_000_000 {
		t.Fatalf("expected $60,000.00, got %d cents", cents)
	}

	cases := []struct {
		name   string
		mutate func(q *PriceQuote)
		want   error
	}{
		{name: "negative", mutate: func(q *PriceQuote) { q.Mantissa = -1 }, want: ErrInvalidPrice},
		{name: "zero", mutate: func(q *PriceQuote) { q.Mantissa = 0 }, want: ErrInvalidPrice},
		{name: "stale", mutate: func(q *PriceQuote) { q.ObservedAt = now.Add(-61 * time.Second) }, want: ErrStalePrice},
		{name: "never observed", mutate: func(q *PriceQuote) { q.ObservedAt = time.Time{} }, want: ErrStalePrice},
		{name: "wide confidence", mutate: func(q *PriceQuote) { q.Confidence = 6_000_000_000 }, want: ErrUnreliablePrice},
		{name: "sub cent", mutate: func(q *PriceQuote) { q.Exponent = -20; q.Confidence = 0 }, want: ErrInvalidPrice},
		{name: "huge exponent", mutate: func(q *PriceQuote) { q.Exponent = 80 }, want: ErrInvalidPrice},
		{name: "beyond 64 bits", mutate: func(q *PriceQuote) { q.Exponent = 10 }, want: ErrArithmeticOverflow},
	}
	for _, tc := range cases {
		q := base
		tc.mutate(&q)
		if _, err := NormalizeQuote(q, now, guard); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	old := base
	old.ObservedAt = now.Add(-time.Hour)
	relaxed := guard
	relaxed.EnforceStaleness = false
	if _, err := NormalizeQuote(old, now, relaxed); err != nil {
		t.Fatalf("staleness should be skipped when not enforced: %v", err)
	}
	exact := base
	exact.ObservedAt = now.Add(-DefaultPriceMaxAge)
	if _, err := NormalizeQuote(exact, now, guard); err != nil {
		t.Fatalf("quote exactly max age old should pass: %v", err)
	}
}

func TestNormalizeAux(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	if cents, err := NormalizeAux(AuxPrice{AssetID: "sbtc", ValueCents: 42, LastUpdate: now.Add(-299 * time.Second)}, now, DefaultAuxMaxAge); err != nil || cents != 42 {
		t.Fatalf("expected 42 cents, got %d (%v)", cents, err)
	}
	if _, err := NormalizeAux(AuxPrice{AssetID: "sbtc", ValueCents: 42, LastUpdate: now.Add(-301 * time.Second)}, now, DefaultAuxMaxAge); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
	if _, err := NormalizeAux(AuxPrice{AssetID: "sbtc", LastUpdate: now}, now, DefaultAuxMaxAge); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestPriceSourcesWrapOracleFailures(t *testing.T) {
	feed := NewManualFeed()
	now := time.Unix(1_700_000_000, 0)
	ctx := context.Background()

	if _, err := Live("btc-usd", feed, DefaultPriceGuard()).PriceCents(ctx, now); !errors.Is(err, ErrOracleError) {
		t.Fatalf("expected wrapped ErrOracleError, got %v", err)
	}
	if _, err := Aux("sbtc", feed, 0).PriceCents(ctx, now); !errors.Is(err, ErrOracleError) {
		t.Fatalf("expected ErrOracleError, got %v", err)
	}
	if _, err := Live("btc-usd", nil, DefaultPriceGuard()).PriceCents(ctx, now); !errors.Is(err, ErrOracleError) {
		t.Fatalf("expected ErrOracleError without oracle, got %v", err)
	}
	if _, err := Mock("btc-usd", 0).PriceCents(ctx, now); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for zero mock, got %v", err)
	}

	feed.SetQuote("BTC-USD", PriceQuote{AssetID: "btc-usd", Mantissa: 6_000_000_000_000, Exponent: -8, ObservedAt: now})
	cents, err := Live("btc-usd", feed, DefaultPriceGuard()).PriceCents(ctx, now)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if cents != 6_000_000 {
		t.Fatalf("expected 6,000,000 cents, got %d", cents)
	}
}
