package adapters

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"otcswap/services/synthd/oracle"
)

// Registry constructs oracle sources based on configuration.
type Registry struct {
	HTTPClient *http.Client
	Now        func() time.Time
}

// NewRegistry builds a registry whose HTTP client is traced and bounded.
func NewRegistry() *Registry {
	return &Registry{
		HTTPClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Now: time.Now,
	}
}

// Spec is the subset of source configuration the registry consumes.
type Spec struct {
	Name     string
	Type     string
	Endpoint string
	APIKey   string
	Feeds    map[string]string
	Prices   map[string]uint64
}

// Build creates a source from the supplied configuration.
func (r *Registry) Build(spec Spec) (oracle.Source, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Type)) {
	case "pyth":
		if len(spec.Feeds) == 0 {
			return nil, fmt.Errorf("pyth source %s: feeds required", spec.Name)
		}
		return newPythSource(r.client(), label(spec.Name, "pyth"), spec.Endpoint, spec.APIKey, spec.Feeds), nil
	case "trend":
		if len(spec.Feeds) == 0 {
			return nil, fmt.Errorf("trend source %s: feeds required", spec.Name)
		}
		return newTrendSource(r.client(), label(spec.Name, "trend"), spec.Endpoint, spec.APIKey, spec.Feeds, r.clock()), nil
	case "static":
		if len(spec.Prices) == 0 {
			return nil, fmt.Errorf("static source %s: prices required", spec.Name)
		}
		return newStaticSource(label(spec.Name, "static"), spec.Prices, r.clock()), nil
	default:
		return nil, fmt.Errorf("unknown oracle type %q", spec.Type)
	}
}

func (r *Registry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (r *Registry) clock() func() time.Time {
	if r.Now != nil {
		return r.Now
	}
	return time.Now
}

type sourceAdapter struct {
	name  string
	fetch func(ctx context.Context, feed string) (oracle.Observation, error)
}

func (s *sourceAdapter) Name() string { return s.name }

func (s *sourceAdapter) Fetch(ctx context.Context, feed string) (oracle.Observation, error) {
	return s.fetch(ctx, feed)
}

// newStaticSource serves fixed cents-per-token prices stamped with the
// current time.
func newStaticSource(name string, prices map[string]uint64, now func() time.Time) oracle.Source {
	normalized := make(map[string]uint64, len(prices))
	for feed, cents := range prices {
		normalized[feedKey(feed)] = cents
	}
	return &sourceAdapter{name: name, fetch: func(_ context.Context, feed string) (oracle.Observation, error) {
		cents, ok := normalized[feedKey(feed)]
		if !ok {
			return oracle.Observation{}, oracle.ErrFeedUnsupported
		}
		return oracle.Observation{
			Price:      new(big.Rat).SetFrac(new(big.Int).SetUint64(cents), big.NewInt(100)),
			Confidence: new(big.Rat),
			Timestamp:  now(),
		}, nil
	}}
}

func lookupFeed(feeds map[string]string, feed string) (string, bool) {
	for local, upstream := range feeds {
		if feedKey(local) == feedKey(feed) {
			upstream = strings.TrimSpace(upstream)
			return upstream, upstream != ""
		}
	}
	return "", false
}

func feedKey(feed string) string {
	return strings.ToLower(strings.TrimSpace(feed))
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}
