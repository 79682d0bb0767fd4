package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"otcswap/native/synth"
	"otcswap/services/synthd/storage"
)

// QuoteExponent is the exponent of mantissas served to the engine.
const QuoteExponent = -8

var (
	quoteScale = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(-QuoteExponent), nil))
	centsScale = big.NewRat(100, 1)
)

// Cache holds the latest aggregate per feed. It is the Publisher for the
// manager and serves the engine's Live and Aux price sources.
type Cache struct {
	mu      sync.RWMutex
	updates map[string]Update
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{updates: make(map[string]Update)}
}

// PublishOracleUpdate implements Publisher.
func (c *Cache) PublishOracleUpdate(_ context.Context, update Update) error {
	if update.Median == nil || update.Median.Sign() <= 0 {
		return fmt.Errorf("update for %s has no price", update.Feed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates[cacheKey(update.Feed)] = update
	return nil
}

// Restore seeds the cache from the latest persisted snapshots so a restarted
// daemon serves prices before its first tick. Staleness is still judged by
// the engine against the original observation time.
func (c *Cache) Restore(ctx context.Context, store *storage.Storage, feeds []string) error {
	for _, feed := range feeds {
		snap, err := store.LatestSnapshot(ctx, feed)
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("restore %s: %w", feed, err)
		}
		median, err := snap.MedianRat()
		if err != nil {
			return fmt.Errorf("restore %s: %w", feed, err)
		}
		conf, err := snap.ConfidenceRat()
		if err != nil {
			return fmt.Errorf("restore %s: %w", feed, err)
		}
		if err := c.PublishOracleUpdate(ctx, Update{
			Feed:       feed,
			Median:     median,
			Confidence: conf,
			Feeders:    snap.Feeders,
			ProofID:    snap.ProofID,
			ObservedAt: time.Unix(snap.ObservedAtUnix, 0),
			Time:       snap.RecordedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the most recent aggregate for feed.
func (c *Cache) Latest(feed string) (Update, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	update, ok := c.updates[cacheKey(feed)]
	return update, ok
}

// GetPrice implements synth.FeedOracle with a mantissa at QuoteExponent.
func (c *Cache) GetPrice(_ context.Context, feedID string) (synth.PriceQuote, error) {
	update, ok := c.Latest(feedID)
	if !ok {
		return synth.PriceQuote{}, fmt.Errorf("feed %s: %w", feedID, synth.ErrNoQuote)
	}
	mantissa := floorScaled(update.Median, quoteScale)
	if !mantissa.IsInt64() {
		return synth.PriceQuote{}, fmt.Errorf("feed %s: price exceeds quote range", feedID)
	}
	confidence := ceilScaled(update.Confidence, quoteScale)
	if !confidence.IsUint64() {
		confidence.SetUint64(math.MaxUint64)
	}
	return synth.PriceQuote{
		AssetID:    update.Feed,
		Mantissa:   mantissa.Int64(),
		Exponent:   QuoteExponent,
		Confidence: confidence.Uint64(),
		ObservedAt: update.ObservedAt,
	}, nil
}

// GetAuxPrice implements synth.AuxOracle, serving the running value in cents.
func (c *Cache) GetAuxPrice(_ context.Context, assetID string) (synth.AuxPrice, error) {
	update, ok := c.Latest(assetID)
	if !ok {
		return synth.AuxPrice{}, fmt.Errorf("aux %s: %w", assetID, synth.ErrNoQuote)
	}
	cents := floorScaled(update.Median, centsScale)
	if !cents.IsUint64() {
		return synth.AuxPrice{}, fmt.Errorf("aux %s: price exceeds cents range", assetID)
	}
	return synth.AuxPrice{
		AssetID:    update.Feed,
		ValueCents: cents.Uint64(),
		LastUpdate: update.ObservedAt,
	}, nil
}

func floorScaled(value, scale *big.Rat) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	scaled := new(big.Rat).Mul(value, scale)
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

func ceilScaled(value, scale *big.Rat) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	scaled := new(big.Rat).Mul(value, scale)
	q, r := new(big.Int).QuoRem(scaled.Num(), scaled.Denom(), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func cacheKey(feed string) string {
	return strings.ToLower(strings.TrimSpace(feed))
}
