package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/trendfeed/internal/post"
)

// CandidateSource provides the capped bucket queries candidate selection is
// built from. Implemented by the post repositories.
type CandidateSource interface {
	RecentPostIDs(ctx context.Context, scope post.Scope, asOf time.Time, window time.Duration, limit int) ([]string, error)
	TopEngagedPostIDs(ctx context.Context, scope post.Scope, asOf time.Time, counter post.Counter, limit int) ([]string, error)
	EngagedReplyIDs(ctx context.Context, scope post.Scope, asOf time.Time, limit int) ([]string, error)
}

// SelectorConfig holds the bucket caps and windows.
type SelectorConfig struct {
	// RecencyWindow bounds the recency bucket; fresh-but-unengaged posts
	// enter candidacy through it.
	RecencyWindow time.Duration
	// Lookback bounds every bucket; WideLookback is the fallback bound when
	// the primary lookback yields nothing.
	Lookback     time.Duration
	WideLookback time.Duration

	RecencyCap int
	CounterCap int // per engagement counter bucket
	ReplyCap   int
}

// DefaultSelectorConfig returns the default caps and windows.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		RecencyWindow: 72 * time.Hour,
		Lookback:      30 * 24 * time.Hour,
		WideLookback:  90 * 24 * time.Hour,
		RecencyCap:    8000,
		CounterCap:    1500,
		ReplyCap:      1200,
	}
}

// MaxCandidates returns the hard upper bound on one selection: the sum of all
// bucket caps. Table size never changes it.
func (c SelectorConfig) MaxCandidates() int {
	return c.RecencyCap + 3*c.CounterCap + c.ReplyCap
}

// Selector produces a bounded, deduplicated candidate set by unioning capped,
// independently-indexed bucket queries instead of scanning the post table.
type Selector struct {
	source CandidateSource
	config SelectorConfig
	logger *slog.Logger
}

// NewSelector creates a candidate selector over the given source.
func NewSelector(source CandidateSource, config SelectorConfig, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		source: source,
		config: config,
		logger: logger,
	}
}

// Select unions all candidate buckets under one scope tier and deduplicates.
// The scope's Lookback must already be set by the caller.
func (s *Selector) Select(ctx context.Context, scope post.Scope, asOf time.Time) ([]string, error) {
	recent, err := s.source.RecentPostIDs(ctx, scope, asOf, s.config.RecencyWindow, s.config.RecencyCap)
	if err != nil {
		return nil, fmt.Errorf("recency bucket failed: %w", err)
	}

	union := make([]string, 0, len(recent))
	seen := make(map[string]bool, len(recent))
	union = appendUnique(union, seen, recent)

	for _, counter := range []post.Counter{post.CounterBoosts, post.CounterBookmarks, post.CounterComments} {
		ids, err := s.source.TopEngagedPostIDs(ctx, scope, asOf, counter, s.config.CounterCap)
		if err != nil {
			return nil, fmt.Errorf("%s bucket failed: %w", counter, err)
		}
		union = appendUnique(union, seen, ids)
	}

	// Engaged replies get their own tighter bucket; replies are down-weighted
	// in scoring, so the cap stays small.
	replies, err := s.source.EngagedReplyIDs(ctx, scope, asOf, s.config.ReplyCap)
	if err != nil {
		return nil, fmt.Errorf("reply bucket failed: %w", err)
	}
	union = appendUnique(union, seen, replies)

	return union, nil
}

// SelectWithFallback runs Select over scope tiers of strictly increasing
// permissiveness and returns the first non-empty result: the primary scope,
// then a widened lookback, then additionally lifting the top-level-only
// constraint. Tiers are never merged, so a sparse instance gets a feed
// without double-counting and a dense one never pays for the widenings.
func (s *Selector) SelectWithFallback(ctx context.Context, scope post.Scope, asOf time.Time) ([]string, error) {
	tiers := s.tiers(scope)

	for i, tier := range tiers {
		ids, err := s.Select(ctx, tier, asOf)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			if i > 0 {
				s.logger.Debug("candidate selection widened",
					"tier", i,
					"candidates", len(ids))
			}
			return ids, nil
		}
	}

	return nil, nil
}

// tiers builds the widening ladder for a scope, skipping tiers that would
// repeat the previous one.
func (s *Selector) tiers(scope post.Scope) []post.Scope {
	narrow := scope
	narrow.Lookback = s.config.Lookback

	wide := scope
	wide.Lookback = s.config.WideLookback

	result := []post.Scope{narrow}
	if s.config.WideLookback > s.config.Lookback {
		result = append(result, wide)
	}
	if scope.TopLevelOnly {
		widest := wide
		widest.TopLevelOnly = false
		result = append(result, widest)
	}
	return result
}

// appendUnique appends ids not yet seen, preserving order.
func appendUnique(union []string, seen map[string]bool, ids []string) []string {
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		union = append(union, id)
	}
	return union
}
