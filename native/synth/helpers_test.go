package synth

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"otcswap/core/events"
	"otcswap/crypto"
)

const (
	testCollateral = "zbtc"
	testSynthetic  = "sbtc"
	testFeed       = "btc-usd"

	// $100,000.00 per whole token.
	testPriceCents = 10_000_000
)

func makeAddress(prefix crypto.AddressPrefix, fill byte) string {
	return crypto.NewAddress(prefix, bytes.Repeat([]byte{fill}, crypto.AddressLength)).String()
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type harness struct {
	t       *testing.T
	store   *MemStore
	feed    *ManualFeed
	engine  *Engine
	events  *recorder
	now     time.Time
	admin   string
	issuer  string
	user    string
	auth    Authorities
	counter int
}

type harnessOptions struct {
	feeRateBps       uint64
	minCollateralBps uint64
	userFunds        uint64
	treasurySeed     uint64
}

func defaultHarnessOptions() harnessOptions {
	return harnessOptions{
		feeRateBps:       100,
		minCollateralBps: 20_000,
		userFunds:        1_000_000_000,
		treasurySeed:     150_000_000,
	}
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		store:  NewMemStore(),
		feed:   NewManualFeed(),
		events: &recorder{},
		now:    time.Unix(1_700_000_000, 0).UTC(),
		admin:  makeAddress(crypto.AccountPrefix, 0x01),
		issuer: makeAddress(crypto.AccountPrefix, 0x02),
		user:   makeAddress(crypto.AccountPrefix, 0x03),
	}
	auth, err := DefaultAuthorities(h.admin)
	if err != nil {
		t.Fatalf("derive authorities: %v", err)
	}
	h.auth = auth

	h.store.CreateAsset(testCollateral, 8, h.issuer)
	h.store.CreateAsset(testSynthetic, 8, h.admin)
	h.store.CreateAccount("treasury", testCollateral, auth.Treasury.String())
	h.store.CreateAccount("fees", testCollateral, auth.Fee.String())
	h.store.CreateAccount("user-zbtc", testCollateral, h.user)
	h.store.CreateAccount("user-sbtc", testSynthetic, h.user)
	h.fund("user-zbtc", opts.userFunds)
	h.fund("treasury", opts.treasurySeed)

	h.setPrices(testPriceCents, testPriceCents)

	h.engine = NewEngine(h.store, Live(testFeed, h.feed, DefaultPriceGuard()), Aux(testSynthetic, h.feed, 0))
	h.engine.WithClock(func() time.Time { return h.now })
	h.engine.WithIDGenerator(func() string {
		h.counter++
		return fmt.Sprintf("op-%d", h.counter)
	})
	h.engine.SetEmitter(h.events)

	if _, err := h.engine.Initialize(context.Background(), h.initParams(opts)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return h
}

func (h *harness) initParams(opts harnessOptions) InitParams {
	return InitParams{
		Admin:            h.admin,
		CollateralAsset:  testCollateral,
		SyntheticAsset:   testSynthetic,
		TreasuryAccount:  "treasury",
		FeeAccount:       "fees",
		CollateralFeed:   testFeed,
		SyntheticFeed:    testSynthetic,
		FeeRateBps:       opts.feeRateBps,
		MinCollateralBps: opts.minCollateralBps,
	}
}

func (h *harness) fund(account string, amount uint64) {
	h.t.Helper()
	if amount == 0 {
		return
	}
	err := h.store.Update(context.Background(), func(tx Tx) error {
		return tx.Mint(testCollateral, account, amount, h.issuer)
	})
	if err != nil {
		h.t.Fatalf("fund %s: %v", account, err)
	}
}

// setPrices publishes a Pyth-style collateral quote with exponent -8 and the
// synthetic running value in cents.
func (h *harness) setPrices(collateralCents, syntheticCents uint64) {
	mantissa := int64(collateralCents) * 1_000_000
	h.feed.SetQuote(testFeed, PriceQuote{
		AssetID:    testFeed,
		Mantissa:   mantissa,
		Exponent:   -8,
		Confidence: uint64(mantissa) / 10_000,
		ObservedAt: h.now,
	})
	h.feed.SetAux(testSynthetic, AuxPrice{AssetID: testSynthetic, ValueCents: syntheticCents, LastUpdate: h.now})
}

func (h *harness) balance(id string) uint64 {
	h.t.Helper()
	var out uint64
	err := h.store.View(context.Background(), func(tx Tx) error {
		account, err := tx.Account(id)
		if err != nil {
			return err
		}
		out = account.Balance
		return nil
	})
	if err != nil {
		h.t.Fatalf("balance %s: %v", id, err)
	}
	return out
}

func (h *harness) supply(asset string) uint64 {
	h.t.Helper()
	var out uint64
	err := h.store.View(context.Background(), func(tx Tx) error {
		a, err := tx.Asset(asset)
		if err != nil {
			return err
		}
		out = a.Supply
		return nil
	})
	if err != nil {
		h.t.Fatalf("supply %s: %v", asset, err)
	}
	return out
}

func (h *harness) outstanding() uint64 {
	h.t.Helper()
	cfg, err := h.engine.Config(context.Background())
	if err != nil {
		h.t.Fatalf("config: %v", err)
	}
	return cfg.TotalSyntheticOutstanding.Uint64()
}

type snapshot struct {
	balances    map[string]uint64
	supply      uint64
	outstanding uint64
}

func (h *harness) snapshot() snapshot {
	h.t.Helper()
	s := snapshot{balances: make(map[string]uint64)}
	for _, id := range []string{"treasury", "fees", "user-zbtc", "user-sbtc"} {
		s.balances[id] = h.balance(id)
	}
	s.supply = h.supply(testSynthetic)
	s.outstanding = h.outstanding()
	return s
}

func (h *harness) requireUnchanged(before snapshot) {
	h.t.Helper()
	after := h.snapshot()
	for id, want := range before.balances {
		if got := after.balances[id]; got != want {
			h.t.Fatalf("balance %s changed: want %d, got %d", id, want, got)
		}
	}
	if after.supply != before.supply {
		h.t.Fatalf("synthetic supply changed: want %d, got %d", before.supply, after.supply)
	}
	if after.outstanding != before.outstanding {
		h.t.Fatalf("outstanding changed: want %d, got %d", before.outstanding, after.outstanding)
	}
}

func (h *harness) mintRequest(amount uint64) MintRequest {
	return MintRequest{Requester: h.user, Amount: amount, SourceAccount: "user-zbtc", DestinationAccount: "user-sbtc"}
}

func (h *harness) burnRequest(amount uint64) BurnRequest {
	return BurnRequest{Requester: h.user, Amount: amount, SourceAccount: "user-sbtc", DestinationAccount: "user-zbtc"}
}
