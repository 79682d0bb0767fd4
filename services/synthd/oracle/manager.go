package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"otcswap/observability"
	"otcswap/services/synthd/storage"
)

// futureTolerance bounds how far ahead of the local clock a publish time may be.
const futureTolerance = 5 * time.Second

// ErrFeedUnsupported is returned by sources that do not serve a feed.
var ErrFeedUnsupported = errors.New("feed not served by source")

// Observation is one upstream reading in fiat per whole token.
type Observation struct {
	Price      *big.Rat
	Confidence *big.Rat
	Timestamp  time.Time
}

// Source resolves the latest observation for a feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context, feed string) (Observation, error)
}

// Publisher receives each aggregated feed price.
type Publisher interface {
	PublishOracleUpdate(ctx context.Context, update Update) error
}

// Update is the aggregate produced for one feed in one tick. ObservedAt is
// the oldest accepted observation so downstream staleness checks stay
// conservative.
type Update struct {
	Feed       string
	Median     *big.Rat
	Confidence *big.Rat
	Feeders    []string
	ProofID    string
	ObservedAt time.Time
	Time       time.Time
}

// Manager orchestrates periodic aggregation across configured sources.
type Manager struct {
	logger    *log.Logger
	storage   *storage.Storage
	sources   []Source
	feeds     []string
	minFeeds  int
	maxAge    time.Duration
	interval  time.Duration
	publisher Publisher
	now       func() time.Time
	metrics   *observability.OracleMetrics
	once      sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithPublisher overrides the default publisher.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithClock overrides the wall clock used to judge freshness.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New constructs a manager instance.
func New(store *storage.Storage, sources []Source, feeds []string, interval, maxAge time.Duration, minFeeds int, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("at least one feed required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	if minFeeds <= 0 {
		minFeeds = 1
	}
	mgr := &Manager{
		logger:   log.Default(),
		storage:  store,
		sources:  append([]Source{}, sources...),
		feeds:    append([]string{}, feeds...),
		interval: interval,
		maxAge:   maxAge,
		minFeeds: minFeeds,
		now:      time.Now,
		metrics:  observability.Oracle(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	if mgr.publisher == nil {
		mgr.publisher = PublisherFunc(func(context.Context, Update) error { return nil })
	}
	if mgr.logger == nil {
		mgr.logger = log.Default()
	}
	if mgr.now == nil {
		mgr.now = time.Now
	}
	return mgr, nil
}

// Run blocks, periodically polling upstream feeds until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Printf("synthd: oracle manager started with %d sources for %d feeds", len(m.sources), len(m.feeds))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Printf("synthd: tick error: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single aggregation cycle across all configured feeds. A
// failing feed does not prevent the others from being refreshed.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	var errs []error
	for _, feed := range m.feeds {
		if err := m.processFeed(ctx, feed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) processFeed(ctx context.Context, feed string) error {
	feed = strings.TrimSpace(feed)
	if feed == "" {
		return fmt.Errorf("invalid feed configuration")
	}
	now := m.now()
	accepted := make([]Observation, 0, len(m.sources))
	feeders := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		obs, err := src.Fetch(ctx, feed)
		if errors.Is(err, ErrFeedUnsupported) {
			continue
		}
		m.metrics.RecordFetch(src.Name(), err)
		if err != nil {
			m.logger.Printf("synthd: source %s failed for %s: %v", src.Name(), feed, err)
			continue
		}
		if obs.Price == nil || obs.Price.Sign() <= 0 {
			m.logger.Printf("synthd: source %s returned invalid price for %s", src.Name(), feed)
			continue
		}
		if obs.Timestamp.After(now.Add(futureTolerance)) {
			m.logger.Printf("synthd: source %s produced future timestamp for %s", src.Name(), feed)
			continue
		}
		if obs.Timestamp.Before(now.Add(-m.maxAge)) {
			m.logger.Printf("synthd: source %s quote for %s expired", src.Name(), feed)
			continue
		}
		if obs.Confidence == nil {
			obs.Confidence = new(big.Rat)
		}
		feeders = append(feeders, src.Name())
		accepted = append(accepted, obs)
		if err := m.storage.RecordSample(ctx, feed, src.Name(), obs.Price, obs.Confidence, obs.Timestamp, now); err != nil {
			m.logger.Printf("synthd: record sample: %v", err)
		}
	}
	if len(accepted) < m.minFeeds {
		return fmt.Errorf("insufficient oracle feeds for %s: %d of %d", feed, len(accepted), m.minFeeds)
	}
	median := computeMedian(accepted)
	if median == nil || median.Sign() <= 0 {
		return fmt.Errorf("median computation failed for %s", feed)
	}
	update := Update{
		Feed:       feed,
		Median:     median,
		Confidence: widestConfidence(accepted),
		Feeders:    feeders,
		ProofID:    proofID(feed, feeders, now),
		ObservedAt: oldest(accepted),
		Time:       now,
	}
	if err := m.storage.RecordSnapshot(ctx, storage.Snapshot{
		Feed:           feed,
		Median:         update.Median.FloatString(18),
		Confidence:     update.Confidence.FloatString(18),
		Feeders:        feeders,
		ProofID:        update.ProofID,
		ObservedAtUnix: update.ObservedAt.Unix(),
		RecordedAt:     now,
	}); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	cents, _ := new(big.Rat).Mul(median, big.NewRat(100, 1)).Float64()
	m.metrics.RecordSnapshot(feed, cents, now.Sub(update.ObservedAt))
	if err := m.publisher.PublishOracleUpdate(ctx, update); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

func computeMedian(observations []Observation) *big.Rat {
	sorted := make([]*big.Rat, 0, len(observations))
	for _, obs := range observations {
		if obs.Price == nil {
			continue
		}
		sorted = append(sorted, new(big.Rat).Set(obs.Price))
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Rat).Set(sorted[mid])
	}
	sum := new(big.Rat).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewRat(2, 1))
}

func widestConfidence(observations []Observation) *big.Rat {
	widest := new(big.Rat)
	for _, obs := range observations {
		if obs.Confidence != nil && obs.Confidence.Cmp(widest) > 0 {
			widest.Set(obs.Confidence)
		}
	}
	return widest
}

func oldest(observations []Observation) time.Time {
	var out time.Time
	for i, obs := range observations {
		if i == 0 || obs.Timestamp.Before(out) {
			out = obs.Timestamp
		}
	}
	return out
}

func proofID(feed string, feeders []string, ts time.Time) string {
	digest := sha256.New()
	digest.Write([]byte(strings.ToLower(feed)))
	digest.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	sorted := append([]string{}, feeders...)
	sort.Strings(sorted)
	for _, f := range sorted {
		digest.Write([]byte(strings.ToLower(strings.TrimSpace(f))))
	}
	return hex.EncodeToString(digest.Sum(nil))
}

// PublisherFunc adapts ordinary functions to Publisher.
type PublisherFunc func(ctx context.Context, update Update) error

// PublishOracleUpdate implements Publisher.
func (f PublisherFunc) PublishOracleUpdate(ctx context.Context, update Update) error {
	if f == nil {
		return nil
	}
	return f(ctx, update)
}
