package middleware

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWithIdempotencyReplaysStoredResponse(t *testing.T) {
	db, err := OpenIdempotencyDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)

	calls := 0
	handler := WithIdempotency(db, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "abc", IdempotencyKeyFromContext(r.Context()))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, fmt.Sprintf(`{"call":%d}`, calls))
	}))

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
		req.Header.Set(HeaderIdempotencyKey, "abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := do("/v1/mint")
	require.Equal(t, http.StatusCreated, first.Code)
	require.JSONEq(t, `{"call":1}`, first.Body.String())

	second := do("/v1/mint")
	require.Equal(t, http.StatusCreated, second.Code)
	require.JSONEq(t, `{"call":1}`, second.Body.String())
	require.Equal(t, "true", second.Header().Get(HeaderReplayed))
	require.Equal(t, 1, calls)

	mismatch := do("/v1/burn")
	require.Equal(t, http.StatusUnprocessableEntity, mismatch.Code)
	require.Equal(t, 1, calls)
}

func TestWithIdempotencyLogsStoreFailure(t *testing.T) {
	db, err := OpenIdempotencyDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)

	var logs bytes.Buffer
	handler := WithIdempotency(db, log.New(&logs, "", 0), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A concurrent request with the same key commits first.
		require.NoError(t, db.Create(&IdempotencyKey{Key: "race", Method: r.Method, Path: r.URL.Path, Status: http.StatusOK, Response: "{}"}).Error)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/mint", strings.NewReader("{}"))
	req.Header.Set(HeaderIdempotencyKey, "race")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, logs.String(), "store idempotency key race")
}

func TestWithIdempotencySkipsServerErrors(t *testing.T) {
	db, err := OpenIdempotencyDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	calls := 0
	handler := WithIdempotency(db, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/mint", nil)
		req.Header.Set(HeaderIdempotencyKey, "retry")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.Equal(t, 2, calls)

	plain := httptest.NewRequest(http.MethodPost, "/v1/mint", nil)
	handler.ServeHTTP(httptest.NewRecorder(), plain)
	require.Equal(t, 3, calls)

	long := httptest.NewRequest(http.MethodPost, "/v1/mint", nil)
	long.Header.Set(HeaderIdempotencyKey, strings.Repeat("k", maxKeyLength+1))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, long)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type throttleCounter map[string]int

func (c throttleCounter) RecordThrottle(route string) { c[route]++ }

func TestRateLimiterPerClient(t *testing.T) {
	counter := throttleCounter{}
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 2}, counter, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	handler := limiter.Middleware("mint")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/mint", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusNoContent, call("10.0.0.1:1000"))
	require.Equal(t, http.StatusNoContent, call("10.0.0.1:1001"))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1002"))
	require.Equal(t, http.StatusNoContent, call("10.0.0.2:1000"))
	require.Equal(t, 1, counter["mint"])

	now = now.Add(time.Second)
	require.Equal(t, http.StatusNoContent, call("10.0.0.1:1003"))
}

func TestRateLimiterDisabledAndClientID(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{}, nil, nil)
	handler := limiter.Middleware("quote")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", clientID(req))
	req.Header.Set("X-Real-IP", "198.51.100.2")
	require.Equal(t, "198.51.100.2", clientID(req))
}
