package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"otcswap/services/synthd/oracle"
)

const pythLatestPath = "/v2/updates/price/latest"

type pythPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type pythLatestResponse struct {
	Parsed []struct {
		ID    string    `json:"id"`
		Price pythPrice `json:"price"`
	} `json:"parsed"`
}

// newPythSource polls a Hermes-compatible endpoint. feeds maps local feed ids
// to Pyth price ids.
func newPythSource(client *http.Client, name, endpoint, apiKey string, feeds map[string]string) oracle.Source {
	base := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	key := strings.TrimSpace(apiKey)
	return &sourceAdapter{name: name, fetch: func(ctx context.Context, feed string) (oracle.Observation, error) {
		priceID, ok := lookupFeed(feeds, feed)
		if !ok {
			return oracle.Observation{}, oracle.ErrFeedUnsupported
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+pythLatestPath, nil)
		if err != nil {
			return oracle.Observation{}, err
		}
		values := url.Values{}
		values.Set("ids[]", priceID)
		req.URL.RawQuery = values.Encode()
		if key != "" {
			req.Header.Set("x-api-key", key)
		}
		resp, err := client.Do(req)
		if err != nil {
			return oracle.Observation{}, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return oracle.Observation{}, fmt.Errorf("pyth oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		var payload pythLatestResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return oracle.Observation{}, fmt.Errorf("pyth oracle: decode: %w", err)
		}
		for _, entry := range payload.Parsed {
			if !samePriceID(entry.ID, priceID) {
				continue
			}
			return pythObservation(entry.Price)
		}
		return oracle.Observation{}, fmt.Errorf("pyth oracle: no price data for %s", priceID)
	}}
}

func pythObservation(p pythPrice) (oracle.Observation, error) {
	mantissa, err := strconv.ParseInt(strings.TrimSpace(p.Price), 10, 64)
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("pyth oracle: invalid price %q", p.Price)
	}
	conf, err := strconv.ParseUint(strings.TrimSpace(p.Conf), 10, 64)
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("pyth oracle: invalid conf %q", p.Conf)
	}
	if p.Expo < -30 || p.Expo > 30 {
		return oracle.Observation{}, fmt.Errorf("pyth oracle: exponent %d out of range", p.Expo)
	}
	return oracle.Observation{
		Price:      scaleByExponent(new(big.Int).SetInt64(mantissa), p.Expo),
		Confidence: scaleByExponent(new(big.Int).SetUint64(conf), p.Expo),
		Timestamp:  time.Unix(p.PublishTime, 0),
	}, nil
}

func scaleByExponent(value *big.Int, expo int32) *big.Rat {
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(absInt32(expo))), nil)
	if expo < 0 {
		return new(big.Rat).SetFrac(value, pow)
	}
	return new(big.Rat).SetInt(new(big.Int).Mul(value, pow))
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Hermes reports ids without the 0x prefix.
func samePriceID(a, b string) bool {
	trim := func(s string) string {
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	}
	return trim(a) == trim(b)
}
