package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"otcswap/services/synthd/oracle"
)

type trendResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Datapoint map[string]json.Number `json:"datapoint"`
	} `json:"data"`
}

// newTrendSource polls the datapoint service that produces the running BTC
// value. The service is asked to store a fresh datapoint and returns it;
// feeds maps local feed ids to datapoint fields (for example btc_price).
func newTrendSource(client *http.Client, name, endpoint, apiKey string, feeds map[string]string, now func() time.Time) oracle.Source {
	target := strings.TrimSpace(endpoint)
	key := strings.TrimSpace(apiKey)
	return &sourceAdapter{name: name, fetch: func(ctx context.Context, feed string) (oracle.Observation, error) {
		field, ok := lookupFeed(feeds, feed)
		if !ok {
			return oracle.Observation{}, oracle.ErrFeedUnsupported
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader([]byte("{}")))
		if err != nil {
			return oracle.Observation{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		resp, err := client.Do(req)
		if err != nil {
			return oracle.Observation{}, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return oracle.Observation{}, fmt.Errorf("trend oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		decoder := json.NewDecoder(resp.Body)
		decoder.UseNumber()
		var payload trendResponse
		if err := decoder.Decode(&payload); err != nil {
			return oracle.Observation{}, fmt.Errorf("trend oracle: decode: %w", err)
		}
		if !payload.Success || payload.Data.Datapoint == nil {
			return oracle.Observation{}, fmt.Errorf("trend oracle: invalid response format")
		}
		raw, ok := payload.Data.Datapoint[field]
		if !ok {
			return oracle.Observation{}, fmt.Errorf("trend oracle: datapoint missing %s", field)
		}
		price, ok := new(big.Rat).SetString(raw.String())
		if !ok || price.Sign() <= 0 {
			return oracle.Observation{}, fmt.Errorf("trend oracle: invalid %s %q", field, raw.String())
		}
		observed := now()
		if ts, ok := payload.Data.Datapoint["timestamp"]; ok {
			if unix, err := ts.Int64(); err == nil && unix > 0 {
				observed = time.Unix(unix, 0)
			}
		}
		return oracle.Observation{Price: price, Confidence: new(big.Rat), Timestamp: observed}, nil
	}}
}
