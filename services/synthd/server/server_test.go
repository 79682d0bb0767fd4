package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"nhooyr.io/websocket"

	"otcswap/crypto"
	nativecommon "otcswap/native/common"
	"otcswap/native/synth"
	"otcswap/services/synthd/api"
	"otcswap/services/synthd/auth"
	"otcswap/services/synthd/journal"
	synthmw "otcswap/services/synthd/middleware"
	"otcswap/services/synthd/storage"
)

const (
	testSecret     = "test-secret"
	testFeed       = "btc-usd"
	testPriceCents = 10_000_000
)

type fixture struct {
	t       *testing.T
	now     time.Time
	store   *synth.MemStore
	feed    *synth.ManualFeed
	engine  *synth.Engine
	pauses  *nativecommon.PauseSwitch
	server  *Server
	handler http.Handler
	admin   string
	user    *crypto.PrivateKey
	nonce   int
}

func newFixture(t *testing.T, throttle ThrottleConfig) *fixture {
	t.Helper()
	adminKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	userKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	f := &fixture{
		t:     t,
		now:   time.Unix(1_700_000_000, 0).UTC(),
		store: synth.NewMemStore(),
		feed:  synth.NewManualFeed(),
		admin: adminKey.PubKey().Address().String(),
		user:  userKey,
	}
	authorities, err := synth.DefaultAuthorities(f.admin)
	require.NoError(t, err)
	issuer := "otc1issuer"
	owner := userKey.PubKey().Address().String()
	f.store.CreateAsset("zbtc", 8, issuer)
	f.store.CreateAsset("sbtc", 8, f.admin)
	f.store.CreateAccount("treasury", "zbtc", authorities.Treasury.String())
	f.store.CreateAccount("fees", "zbtc", authorities.Fee.String())
	f.store.CreateAccount("user-zbtc", "zbtc", owner)
	f.store.CreateAccount("user-sbtc", "sbtc", owner)
	require.NoError(t, f.store.Update(context.Background(), func(tx synth.Tx) error {
		if err := tx.Mint("zbtc", "user-zbtc", 1_000_000_000, issuer); err != nil {
			return err
		}
		return tx.Mint("zbtc", "treasury", 150_000_000, issuer)
	}))
	f.setPrices(testPriceCents, f.now)

	f.engine = synth.NewEngine(f.store, synth.Live(testFeed, f.feed, synth.DefaultPriceGuard()), synth.Aux("sbtc", f.feed, 0))
	f.engine.WithClock(func() time.Time { return f.now })
	counter := 0
	f.engine.WithIDGenerator(func() string {
		counter++
		return fmt.Sprintf("op-%d", counter)
	})
	f.pauses = nativecommon.NewPauseSwitch()
	f.engine.SetPauses(f.pauses)

	db, err := storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	events, err := journal.New(db, nil)
	require.NoError(t, err)
	f.engine.SetEmitter(events)

	nonces, err := auth.NewMemoryNonceStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = nonces.Close() })
	verifier, err := auth.NewVerifier(nonces, time.Minute, time.Hour, func() time.Time { return f.now })
	require.NoError(t, err)
	idem, err := synthmw.OpenIdempotencyDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)

	f.server, err = New(Config{Throttle: throttle}, Dependencies{
		Engine:      f.engine,
		Storage:     db,
		Journal:     events,
		Verifier:    verifier,
		Admin:       auth.NewAdminAuthenticator(auth.AdminConfig{Secret: testSecret, Issuer: "synthctl", Audience: "synthd"}, nil),
		Idempotency: idem,
		Pauses:      f.pauses,
		Now:         func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.handler = f.server.Handler()
	return f
}

func (f *fixture) setPrices(cents uint64, observed time.Time) {
	mantissa := int64(cents) * 1_000_000
	f.feed.SetQuote(testFeed, synth.PriceQuote{AssetID: testFeed, Mantissa: mantissa, Exponent: -8, Confidence: uint64(mantissa) / 10_000, ObservedAt: observed})
	f.feed.SetAux("sbtc", synth.AuxPrice{AssetID: "sbtc", ValueCents: cents, LastUpdate: observed})
}

func (f *fixture) token(subject string) string {
	f.t.Helper()
	token, err := auth.IssueAdminToken(testSecret, "synthctl", "synthd", subject, time.Hour, time.Now())
	require.NoError(f.t, err)
	return token
}

func (f *fixture) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader = http.NoBody
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		data, err := json.Marshal(v)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) adminCall(path string, body any, subject string) *httptest.ResponseRecorder {
	return f.do(http.MethodPost, "/v1/admin"+path, body, map[string]string{"Authorization": "Bearer " + f.token(subject)})
}

func (f *fixture) initialize() {
	f.t.Helper()
	rec := f.adminCall("/initialize", api.InitializeRequest{
		CollateralAsset:  "zbtc",
		SyntheticAsset:   "sbtc",
		TreasuryAccount:  "treasury",
		FeeAccount:       "fees",
		CollateralFeed:   testFeed,
		SyntheticFeed:    "sbtc",
		FeeRateBps:       100,
		MinCollateralBps: 20_000,
	}, f.admin)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *fixture) signed(kind string, amount uint64, src, dst string) api.OperationRequest {
	f.t.Helper()
	f.nonce++
	req := api.OperationRequest{Amount: amount, SourceAccount: src, DestinationAccount: dst, Nonce: fmt.Sprintf("n-%d", f.nonce), Timestamp: f.now.Unix()}
	require.NoError(f.t, req.Sign(kind, f.user))
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestMintBurnRoundTrip(t *testing.T) {
	f := newFixture(t, ThrottleConfig{})
	f.initialize()

	quote := f.do(http.MethodPost, "/v1/quote/mint", map[string]string{"amount": "100000000"}, nil)
	require.Equal(t, http.StatusOK, quote.Code, quote.Body.String())
	q := decode[api.QuoteResponse](t, quote)
	require.Equal(t, "99000000", q.Output.Units)
	require.Equal(t, "0.01000000", q.Fee.Display)

	mint := f.signed(api.KindMint, 100_000_000, "user-zbtc", "user-sbtc")
	rec := f.do(http.MethodPost, "/v1/mint", mint, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	minted := decode[api.MintResponse](t, rec)
	require.Equal(t, "op-1", minted.OperationID)
	require.Equal(t, "99000000", minted.Minted.Units)
	require.Equal(t, "1000000", minted.Fee.Units)
	require.Equal(t, "100000.00", minted.Prices.CollateralUSD)
	require.Equal(t, "0.99000000", minted.TotalOutstanding.Display)

	replay := f.do(http.MethodPost, "/v1/mint", mint, nil)
	require.Equal(t, http.StatusConflict, replay.Code)

	burn := f.signed(api.KindBurn, 49_500_000, "user-sbtc", "user-zbtc")
	rec = f.do(http.MethodPost, "/v1/burn", burn, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	burned := decode[api.BurnResponse](t, rec)
	require.Equal(t, "49500000", burned.Gross.Units)
	require.Equal(t, "495000", burned.Fee.Units)
	require.Equal(t, "49005000", burned.Redeemed.Units)
	require.Equal(t, "49500000", burned.TotalOutstanding.Units)

	status := f.do(http.MethodGet, "/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, status.Code)
	st := decode[api.StatusResponse](t, status)
	require.Nil(t, st.PriceError)
	require.NotNil(t, st.Prices)
	require.Equal(t, "1495000", st.FeeBalance.Units)
	require.Equal(t, f.admin, st.Config.AdminAuthority)

	events := f.do(http.MethodGet, "/v1/events?after=0&limit=10", nil, nil)
	require.Equal(t, http.StatusOK, events.Code)
	page := decode[api.EventsResponse](t, events)
	require.Len(t, page.Events, 3)
	require.Equal(t, "op-1", page.Events[1].OperationID)
	require.Equal(t, page.Events[2].ID, page.Next)
}

func TestMintRejections(t *testing.T) {
	f := newFixture(t, ThrottleConfig{})
	f.initialize()

	forged := f.signed(api.KindMint, 1_000, "user-zbtc", "user-sbtc")
	forged.Amount = 2_000
	rec := f.do(http.MethodPost, "/v1/mint", forged, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	f.setPrices(testPriceCents, f.now.Add(-2*time.Minute))
	rec = f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 1_000, "user-zbtc", "user-sbtc"), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	body := decode[api.ErrorResponse](t, rec)
	require.Equal(t, synth.Codespace, body.Codespace)
	require.Equal(t, uint32(9), body.Code)

	status := decode[api.StatusResponse](t, f.do(http.MethodGet, "/v1/status", nil, nil))
	require.NotNil(t, status.PriceError)
	require.Nil(t, status.Prices)
	f.setPrices(testPriceCents, f.now)

	rec = f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 1_000, "user-sbtc", "user-zbtc"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/v1/mint", "not json", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/quote/swap", map[string]string{"amount": "1"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdempotentRetryReturnsOriginalResponse(t *testing.T) {
	f := newFixture(t, ThrottleConfig{})
	f.initialize()
	mint := f.signed(api.KindMint, 10_000, "user-zbtc", "user-sbtc")
	headers := map[string]string{synthmw.HeaderIdempotencyKey: "retry-1"}
	first := f.do(http.MethodPost, "/v1/mint", mint, headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := f.do(http.MethodPost, "/v1/mint", mint, headers)
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "true", second.Header().Get(synthmw.HeaderReplayed))
	require.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestRequesterThrottle(t *testing.T) {
	f := newFixture(t, ThrottleConfig{Window: time.Hour, MintLimit: 15_000})
	f.initialize()
	rec := f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 10_000, "user-zbtc", "user-sbtc"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 10_000, "user-zbtc", "user-sbtc"), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	f.now = f.now.Add(2 * time.Hour)
	f.setPrices(testPriceCents, f.now)
	rec = f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 10_000, "user-zbtc", "user-sbtc"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRejectedOperationReleasesThrottle(t *testing.T) {
	f := newFixture(t, ThrottleConfig{Window: time.Hour, MintLimit: 15_000})
	f.initialize()

	f.setPrices(testPriceCents, f.now.Add(-2*time.Minute))
	rec := f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 10_000, "user-zbtc", "user-sbtc"), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	f.setPrices(testPriceCents, f.now)
	rec = f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 10_000, "user-zbtc", "user-sbtc"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 10_000, "user-zbtc", "user-sbtc"), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, ThrottleConfig{})

	rec := f.do(http.MethodGet, "/v1/config", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	f.initialize()
	rec = f.adminCall("/initialize", api.InitializeRequest{}, f.admin)
	require.NotEqual(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, "/v1/admin/pause", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	outsider, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	rec = f.adminCall("/pause", nil, outsider.PubKey().Address().String())
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = f.adminCall("/pause", nil, f.admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decode[api.ConfigResponse](t, rec).Paused)

	rec = f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 1_000, "user-zbtc", "user-sbtc"), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.adminCall("/unpause", nil, f.admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.adminCall("/fee-rate", api.ParamRequest{Bps: 501}, f.admin)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.adminCall("/fee-rate", api.ParamRequest{Bps: 250}, f.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(250), decode[api.ConfigResponse](t, rec).FeeRateBps)

	rec = f.adminCall("/min-collateral", api.ParamRequest{Bps: 19_999}, f.admin)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.adminCall("/min-collateral", api.ParamRequest{Bps: 30_000}, f.admin)
	require.Equal(t, http.StatusOK, rec.Code)

	f.pauses.Set(synth.ModuleName(), true)
	st := decode[api.StatusResponse](t, f.do(http.MethodGet, "/v1/status", nil, nil))
	require.True(t, st.OperatorPaused)
	rec = f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 1_000, "user-zbtc", "user-sbtc"), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthTracksEngineState(t *testing.T) {
	f := newFixture(t, ThrottleConfig{})
	h := NewHealth(f.engine, f.pauses, time.Second, nil)
	ctx := context.Background()
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.Refresh(ctx))

	f.initialize()
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, h.Refresh(ctx))
	resp, err := h.server.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	f.pauses.Set(synth.ModuleName(), true)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.Refresh(ctx))
	f.pauses.Set(synth.ModuleName(), false)

	f.setPrices(testPriceCents, f.now.Add(-time.Hour))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.Refresh(ctx))
}

func TestEventStreamDeliversBacklogThenLive(t *testing.T) {
	f := newFixture(t, ThrottleConfig{})
	f.initialize()
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events/stream?after=0", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() storage.EventRecord {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var rec storage.EventRecord
		require.NoError(t, json.Unmarshal(data, &rec))
		return rec
	}
	first := read()
	require.Equal(t, int64(1), first.ID)
	require.Equal(t, "synth.initialized", first.Type)

	rec := f.do(http.MethodPost, "/v1/mint", f.signed(api.KindMint, 10_000, "user-zbtc", "user-sbtc"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	live := read()
	require.Equal(t, int64(2), live.ID)
	require.Equal(t, "op-1", live.OperationID)
}
