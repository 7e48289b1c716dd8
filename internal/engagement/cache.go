// Package engagement maintains the per-post materialized engagement score:
// a decayed sum over boost events stored in two nullable columns on the post
// row, refreshed on demand when older than a TTL. The columns are the cache;
// there is no cache server.
package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/trendfeed/internal/post"
	"github.com/onnwee/trendfeed/internal/ranking"
)

// Store provides the score-cache and boost-aggregate operations the cache
// needs. Implemented by the post repositories.
type Store interface {
	// ScoreCache reads the cache pair for the requested posts; never-computed
	// posts are absent.
	ScoreCache(ctx context.Context, ids []string) (map[string]post.ScoreCacheEntry, error)
	// SumDecayedBoosts recomputes decayed boost sums for the requested posts.
	SumDecayedBoosts(ctx context.Context, ids []string, asOf time.Time, halfLife time.Duration) (map[string]float64, error)
	// UpdateScoreCache bulk-writes recomputed scores.
	UpdateScoreCache(ctx context.Context, scores map[string]float64, at time.Time) error
	// ClearScoreCache nulls the cache pair for a post.
	ClearScoreCache(ctx context.Context, id string) error
}

// Config configures the score cache.
type Config struct {
	// TTL is how long a cached score stays fresh. A nulled pair ("never
	// computed") is treated exactly like an expired one.
	TTL time.Duration
	// HalfLife is the boost-event decay half-life.
	HalfLife time.Duration
	// Logger for cache activity.
	Logger *slog.Logger
	// Now overrides the clock (for testing).
	Now func() time.Time
}

// DefaultTTL is the default score-cache freshness window.
const DefaultTTL = 10 * time.Minute

// Cache refreshes and invalidates the materialized engagement score.
type Cache struct {
	store    Store
	ttl      time.Duration
	halfLife time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewCache creates a score cache over the given store.
func NewCache(store Store, cfg Config) *Cache {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HalfLife == 0 {
		cfg.HalfLife = ranking.BoostHalfLife
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache{
		store:    store,
		ttl:      cfg.TTL,
		halfLife: cfg.HalfLife,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// EnsureFresh returns a fresh cache entry for every requested post,
// recomputing all stale entries in one batched aggregate and writing them
// back with a shared timestamp. IDs that don't resolve to a post are silently
// skipped (they come back with a zero score, same as a post with no boosts).
//
// A refresh failure propagates: callers must not serve a ranked read off an
// unknown cache state.
func (c *Cache) EnsureFresh(ctx context.Context, ids []string) (map[string]post.ScoreCacheEntry, error) {
	if len(ids) == 0 {
		return map[string]post.ScoreCacheEntry{}, nil
	}
	ids = dedupe(ids)

	now := c.now()
	entries, err := c.store.ScoreCache(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to read score cache: %w", err)
	}

	threshold := now.Add(-c.ttl)
	var stale []string
	for _, id := range ids {
		entry, ok := entries[id]
		if !ok || entry.UpdatedAt.Before(threshold) {
			stale = append(stale, id)
		}
	}

	if len(stale) == 0 {
		return entries, nil
	}

	sums, err := c.store.SumDecayedBoosts(ctx, stale, now, c.halfLife)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute engagement scores: %w", err)
	}

	// Posts with no boost events recompute to zero, which is still a valid,
	// fresh cache entry.
	scores := make(map[string]float64, len(stale))
	for _, id := range stale {
		scores[id] = sums[id]
	}

	if err := c.store.UpdateScoreCache(ctx, scores, now); err != nil {
		return nil, fmt.Errorf("failed to write score cache: %w", err)
	}

	for id, score := range scores {
		entries[id] = post.ScoreCacheEntry{Score: score, UpdatedAt: now}
	}

	c.logger.Debug("refreshed engagement score cache",
		"requested", len(ids),
		"recomputed", len(stale))

	return entries, nil
}

// Invalidate nulls the cache pair for a post, forcing the next EnsureFresh to
// recompute it regardless of TTL. Called by write paths after an engagement
// mutation; unknown ids are a no-op.
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	if err := c.store.ClearScoreCache(ctx, id); err != nil {
		return fmt.Errorf("failed to invalidate score cache: %w", err)
	}
	return nil
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// dedupe removes duplicate ids preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}
