package adapters

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"otcswap/services/synthd/oracle"
)

const btcPriceID = "0x3d824c7f7c26ed1c85421ecec8c754e6b52d66a4e45de20a9c9ea91de8b396f9"

func TestPythSourceParsesHermesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pythLatestPath, r.URL.Path)
		require.Equal(t, btcPriceID, r.URL.Query().Get("ids[]"))
		require.Equal(t, "k", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"parsed":[{"id":"3d824c7f7c26ed1c85421ecec8c754e6b52d66a4e45de20a9c9ea91de8b396f9",
			"price":{"price":"6000012345678","conf":"3000000","expo":-8,"publish_time":1700000000},
			"ema_price":{"price":"5990000000000","conf":"1","expo":-8,"publish_time":1700000000},
			"metadata":{"slot":1}}]}`)
	}))
	defer srv.Close()

	registry := &Registry{HTTPClient: srv.Client()}
	src, err := registry.Build(Spec{Name: "hermes", Type: "pyth", Endpoint: srv.URL + "/", APIKey: "k", Feeds: map[string]string{"BTC-USD": btcPriceID}})
	require.NoError(t, err)
	require.Equal(t, "hermes", src.Name())

	obs, err := src.Fetch(context.Background(), "btc-usd")
	require.NoError(t, err)
	want, _ := new(big.Rat).SetString("60000.12345678")
	require.Zero(t, obs.Price.Cmp(want))
	require.Zero(t, obs.Confidence.Cmp(big.NewRat(3, 100)))
	require.True(t, obs.Timestamp.Equal(time.Unix(1_700_000_000, 0)))

	_, err = src.Fetch(context.Background(), "eth-usd")
	require.ErrorIs(t, err, oracle.ErrFeedUnsupported)
}

func TestPythSourceErrors(t *testing.T) {
	status := http.StatusOK
	body := `{"parsed":[]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()
	src, err := (&Registry{HTTPClient: srv.Client()}).Build(Spec{Type: "pyth", Endpoint: srv.URL, Feeds: map[string]string{"btc-usd": "abc"}})
	require.NoError(t, err)

	_, err = src.Fetch(context.Background(), "btc-usd")
	require.ErrorContains(t, err, "no price data")

	body = `{"parsed":[{"id":"abc","price":{"price":"x","conf":"1","expo":-8,"publish_time":1}}]}`
	_, err = src.Fetch(context.Background(), "btc-usd")
	require.ErrorContains(t, err, "invalid price")

	status = http.StatusBadGateway
	body = "upstream down"
	_, err = src.Fetch(context.Background(), "btc-usd")
	require.ErrorContains(t, err, "status 502: upstream down")
}

func TestTrendSourceStoresDatapoint(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = io.WriteString(w, `{"success":true,"data":{"datapoint":{"btc_price":60123.45}}}`)
	}))
	defer srv.Close()

	now := time.Unix(1_700_000_123, 0)
	registry := &Registry{HTTPClient: srv.Client(), Now: func() time.Time { return now }}
	src, err := registry.Build(Spec{Type: "trend", Endpoint: srv.URL + "/datapoints/store", Feeds: map[string]string{"sbtc": "btc_price"}})
	require.NoError(t, err)
	require.Equal(t, "trend", src.Name())

	obs, err := src.Fetch(context.Background(), "SBTC")
	require.NoError(t, err)
	require.Zero(t, obs.Price.Cmp(big.NewRat(6_012_345, 100)))
	require.True(t, obs.Timestamp.Equal(now))
	require.Equal(t, 1, calls)

	_, err = src.Fetch(context.Background(), "btc-usd")
	require.True(t, errors.Is(err, oracle.ErrFeedUnsupported))
	require.Equal(t, 1, calls, "unsupported feeds must not hit the network")
}

func TestTrendSourceRejectsFailures(t *testing.T) {
	body := `{"success":false}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()
	src, err := (&Registry{HTTPClient: srv.Client()}).Build(Spec{Type: "trend", Endpoint: srv.URL, Feeds: map[string]string{"sbtc": "btc_price"}})
	require.NoError(t, err)

	_, err = src.Fetch(context.Background(), "sbtc")
	require.ErrorContains(t, err, "invalid response format")

	body = `{"success":true,"data":{"datapoint":{"btc_price":-1}}}`
	_, err = src.Fetch(context.Background(), "sbtc")
	require.ErrorContains(t, err, "invalid btc_price")

	body = `{"success":true,"data":{"datapoint":{"eth_price":1}}}`
	_, err = src.Fetch(context.Background(), "sbtc")
	require.ErrorContains(t, err, "missing btc_price")
}

func TestStaticSourceAndRegistryValidation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	registry := &Registry{Now: func() time.Time { return now }}
	src, err := registry.Build(Spec{Name: "dev", Type: "STATIC", Prices: map[string]uint64{"BTC-USD": 6_000_000}})
	require.NoError(t, err)
	obs, err := src.Fetch(context.Background(), "btc-usd")
	require.NoError(t, err)
	require.Zero(t, obs.Price.Cmp(big.NewRat(60_000, 1)))
	require.True(t, obs.Timestamp.Equal(now))

	_, err = registry.Build(Spec{Type: "static"})
	require.Error(t, err)
	_, err = registry.Build(Spec{Type: "pyth", Endpoint: "http://x"})
	require.Error(t, err)
	_, err = registry.Build(Spec{Type: "coingecko"})
	require.ErrorContains(t, err, "unknown oracle type")
}
