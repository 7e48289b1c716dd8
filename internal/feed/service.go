package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/trendfeed/internal/engagement"
	"github.com/onnwee/trendfeed/internal/post"
	"github.com/onnwee/trendfeed/internal/ranking"
	"github.com/onnwee/trendfeed/internal/snapshot"
)

// Source selects how a feed request is ranked.
type Source string

// Feed sources. Live feeds score candidates per request (profile and home
// feeds, where scopes are small); snapshot feeds read the precomputed
// trending generation. Both share the same pagination contract.
const (
	SourceLive     Source = "live"
	SourceSnapshot Source = "snapshot"
)

// Request is one ranked read.
type Request struct {
	Scope  post.Scope
	Source Source
	Cursor string // opaque cursor token, empty for page 1
	Limit  int
}

// Item is one ranked feed entry.
type Item struct {
	PostID    string    `json:"post_id"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is one page of a ranked feed. NextCursor is empty on the last page.
type Page struct {
	Items      []Item    `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
	AsOf       time.Time `json:"as_of"`
}

// TagTrendSource supplies hashtag trend alignment signals. Hashtag parsing
// and trend tracking live outside this module; implementations adapt
// whatever the instance uses.
type TagTrendSource interface {
	// BestTagTrends returns, per post, the trend score of its best hashtag,
	// plus the global maximum trend score. Posts without trending tags are
	// absent from the map.
	BestTagTrends(ctx context.Context, ids []string) (map[string]float64, float64, error)
}

// NoopTagTrends is a TagTrendSource that reports no trending tags.
type NoopTagTrends struct{}

// BestTagTrends reports no trends.
func (NoopTagTrends) BestTagTrends(_ context.Context, _ []string) (map[string]float64, float64, error) {
	return map[string]float64{}, 0, nil
}

// JobMetrics provides centralized background job metrics tracking.
// Satisfied by *jobs.Metrics; an interface keeps the dependency optional.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// ServiceConfig configures the feed service.
type ServiceConfig struct {
	Selector SelectorConfig

	DefaultLimit int
	MaxLimit     int

	// CacheWarmLimit bounds how many stale candidates get an eager
	// score-cache refresh during a snapshot batch, highest-boosted first.
	// The remainder score off whatever cache state they have, so one batch
	// never recomputes the whole candidate set.
	CacheWarmLimit int

	// TrendingScope is the wide scope the snapshot batch ranks.
	TrendingScope post.Scope

	// JobMetrics for centralized background job tracking of the bounded
	// cache warm pass. Optional.
	JobMetrics JobMetrics

	Logger *slog.Logger
	Now    func() time.Time
}

// Default pagination limits.
const (
	DefaultLimit = 20
	MaxLimit     = 40

	DefaultCacheWarmLimit = 2000
)

// Job type label for the cache warm pass, matching the registry convention
// used by the snapshot batch.
const jobTypeCacheWarm = "cache_warm"

// Service ranks posts and serves stable pages over the result.
type Service struct {
	posts     post.Repository
	cache     *engagement.Cache
	selector  *Selector
	snapshots snapshot.Store
	tags      TagTrendSource
	weights   *ranking.Weights
	config    ServiceConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a feed service.
func NewService(posts post.Repository, cache *engagement.Cache, snapshots snapshot.Store, tags TagTrendSource, weights *ranking.Weights, config ServiceConfig) *Service {
	if config.DefaultLimit == 0 {
		config.DefaultLimit = DefaultLimit
	}
	if config.MaxLimit == 0 {
		config.MaxLimit = MaxLimit
	}
	if config.CacheWarmLimit == 0 {
		config.CacheWarmLimit = DefaultCacheWarmLimit
	}
	if config.Selector == (SelectorConfig{}) {
		config.Selector = DefaultSelectorConfig()
	}
	if len(config.TrendingScope.Visibilities) == 0 {
		config.TrendingScope = post.Scope{
			Visibilities: []string{post.VisibilityPublic},
			TopLevelOnly: true,
		}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if tags == nil {
		tags = NoopTagTrends{}
	}
	if weights == nil {
		weights = ranking.DefaultWeights()
	}

	return &Service{
		posts:     posts,
		cache:     cache,
		selector:  NewSelector(posts, config.Selector, config.Logger),
		snapshots: snapshots,
		tags:      tags,
		weights:   weights,
		config:    config,
		logger:    config.Logger,
		now:       config.Now,
	}
}

// Rank serves one page of a ranked feed. The cursor freezes the scoring
// epoch: page 1 picks asOf, every later page of the scroll session reuses it
// verbatim, so items neither duplicate nor vanish across page boundaries
// while scores keep moving underneath.
func (s *Service) Rank(ctx context.Context, req Request) (*Page, error) {
	limit := clampLimit(req.Limit, s.config.DefaultLimit, s.config.MaxLimit)
	cursor := DecodeCursor(req.Cursor)

	if req.Source == SourceSnapshot {
		return s.rankSnapshot(ctx, req.Scope, cursor, limit)
	}
	return s.rankLive(ctx, req.Scope, cursor, limit)
}

// rankLive scores candidates at the session's frozen reference time and
// pages through the result with a keyset comparison.
func (s *Service) rankLive(ctx context.Context, scope post.Scope, cursor *Cursor, limit int) (*Page, error) {
	asOf := s.now()
	if cursor != nil {
		asOf = cursor.AsOf
	}

	ids, err := s.selector.SelectWithFallback(ctx, scope, asOf)
	if err != nil {
		return nil, fmt.Errorf("candidate selection failed: %w", err)
	}
	if len(ids) == 0 {
		return &Page{Items: []Item{}, AsOf: asOf}, nil
	}

	scored, err := s.scoreCandidates(ctx, ids, asOf, 0)
	if err != nil {
		return nil, err
	}

	var filtered []scoredPost
	if cursor == nil {
		filtered = scored
	} else {
		filtered = make([]scoredPost, 0, len(scored))
		for _, sp := range scored {
			if cursor.After(sp.score, sp.post.CreatedAt, sp.post.ID) {
				filtered = append(filtered, sp)
			}
		}
	}

	page := &Page{AsOf: asOf}
	hasMore := len(filtered) > limit
	if hasMore {
		filtered = filtered[:limit]
	}

	page.Items = make([]Item, len(filtered))
	for i, sp := range filtered {
		page.Items[i] = Item{PostID: sp.post.ID, Score: sp.score, CreatedAt: sp.post.CreatedAt}
	}

	if hasMore && len(filtered) > 0 {
		last := filtered[len(filtered)-1]
		page.NextCursor = EncodeCursor(Cursor{
			AsOf:      asOf,
			Score:     last.score,
			CreatedAt: last.post.CreatedAt,
			ID:        last.post.ID,
		})
	}

	return page, nil
}

// rankSnapshot pages through a precomputed generation. A cursor referencing a
// generation that aged out of retention falls back to a fresh first page on
// the current generation, same as a malformed cursor.
func (s *Service) rankSnapshot(ctx context.Context, scope post.Scope, cursor *Cursor, limit int) (*Page, error) {
	if cursor != nil {
		ok, err := s.snapshots.HasGeneration(ctx, cursor.AsOf)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve snapshot generation: %w", err)
		}
		if !ok {
			cursor = nil
		}
	}

	var asOf time.Time
	if cursor != nil {
		asOf = cursor.AsOf
	} else {
		latest, ok, err := s.snapshots.LatestAsOf(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve latest snapshot: %w", err)
		}
		if !ok {
			return &Page{Items: []Item{}}, nil
		}
		asOf = latest
	}

	q := snapshot.PageQuery{
		AsOf:         asOf,
		Visibilities: scope.Visibilities,
		TopLevelOnly: scope.TopLevelOnly,
		Limit:        limit + 1,
	}
	if cursor != nil {
		q.HasAfter = true
		q.AfterScore = cursor.Score
		q.AfterCreatedAt = cursor.CreatedAt
		q.AfterID = cursor.ID
	}

	rows, err := s.snapshots.Page(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot page: %w", err)
	}

	page := &Page{AsOf: asOf}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	page.Items = make([]Item, len(rows))
	for i, row := range rows {
		page.Items[i] = Item{PostID: row.PostID, Score: row.Score, CreatedAt: row.CreatedAt}
	}

	if hasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		page.NextCursor = EncodeCursor(Cursor{
			AsOf:      asOf,
			Score:     last.Score,
			CreatedAt: last.CreatedAt,
			ID:        last.PostID,
		})
	}

	return page, nil
}

// RankSnapshot implements snapshot.Ranker: candidate selection over the wide
// trending scope plus scoring, with an eager cache warm limited to the
// highest-boosted candidates still stale.
func (s *Service) RankSnapshot(ctx context.Context, asOf time.Time, maxRows int) ([]snapshot.Row, error) {
	ids, err := s.selector.SelectWithFallback(ctx, s.config.TrendingScope, asOf)
	if err != nil {
		return nil, fmt.Errorf("trending candidate selection failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	scored, err := s.scoreCandidates(ctx, ids, asOf, s.config.CacheWarmLimit)
	if err != nil {
		return nil, err
	}

	if maxRows > 0 && len(scored) > maxRows {
		scored = scored[:maxRows]
	}

	rows := make([]snapshot.Row, len(scored))
	for i, sp := range scored {
		rows[i] = snapshot.Row{
			AsOf:       asOf,
			PostID:     sp.post.ID,
			CreatedAt:  sp.post.CreatedAt,
			Score:      sp.score,
			AuthorID:   sp.post.AuthorID,
			Visibility: sp.post.Visibility,
			InReplyTo:  sp.post.InReplyTo,
			RootID:     sp.post.RootID,
		}
	}
	return rows, nil
}

// scoredPost pairs a post with its computed score.
type scoredPost struct {
	post  *post.Post
	score float64
}

// scoreCandidates loads posts and auxiliary signals, scores them at the
// frozen reference time, and returns them in strict
// (score DESC, createdAt DESC, id DESC) order.
//
// warmLimit == 0 refreshes the score cache for every candidate (live feeds,
// whose scopes are small). A positive warmLimit refreshes only that many
// stale candidates, highest-boosted first; the rest score off their existing
// cache state, with never-computed treated as zero.
func (s *Service) scoreCandidates(ctx context.Context, ids []string, asOf time.Time, warmLimit int) ([]scoredPost, error) {
	posts, err := s.posts.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	if len(posts) == 0 {
		return nil, nil
	}

	cacheEntries, err := s.freshScores(ctx, posts, warmLimit)
	if err != nil {
		return nil, err
	}

	postIDs := make([]string, len(posts))
	for i, p := range posts {
		postIDs[i] = p.ID
	}

	replyTimes, err := s.posts.ReplyTimes(ctx, postIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load reply times: %w", err)
	}

	deletedAncestors, err := s.posts.CountDeletedAncestors(ctx, postIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load ancestor state: %w", err)
	}

	tagTrends, maxTrend, err := s.tags.BestTagTrends(ctx, postIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load tag trends: %w", err)
	}

	scored := make([]scoredPost, len(posts))
	for i, p := range posts {
		params := ranking.PostParams{
			CreatedAt:        p.CreatedAt,
			CachedScore:      cacheEntries[p.ID].Score,
			BookmarkCount:    p.BookmarkCount,
			CommentSignal:    ranking.CommentSignal(asOf, replyTimes[p.ID]),
			TagTrend:         tagTrends[p.ID],
			MaxTagTrend:      maxTrend,
			Pinned:           p.Pinned,
			AuthorTier:       p.AuthorTier,
			IsReply:          p.IsReply(),
			DeletedAncestors: deletedAncestors[p.ID],
		}
		scored[i] = scoredPost{post: p, score: ranking.Score(params, asOf, s.weights)}
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.post.CreatedAt.Equal(b.post.CreatedAt) {
			return a.post.CreatedAt.After(b.post.CreatedAt)
		}
		return a.post.ID > b.post.ID
	})

	return scored, nil
}

// freshScores resolves the cached engagement score per post, refreshing all
// or only the warm set depending on warmLimit.
func (s *Service) freshScores(ctx context.Context, posts []*post.Post, warmLimit int) (map[string]post.ScoreCacheEntry, error) {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}

	if warmLimit <= 0 {
		entries, err := s.cache.EnsureFresh(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("score cache refresh failed: %w", err)
		}
		return entries, nil
	}

	start := s.now()
	entries, err := s.warmScores(ctx, posts, ids, warmLimit)
	if err != nil {
		s.recordWarm(start, "failure")
		if s.config.JobMetrics != nil {
			s.config.JobMetrics.IncJobErrors(jobTypeCacheWarm, "cache_refresh")
		}
		return nil, err
	}
	s.recordWarm(start, "success")
	return entries, nil
}

// warmScores refreshes the cache for at most warmLimit stale candidates,
// highest-boosted first, and reads the rest as-is. Fresh entries never burn
// warm budget: the budget exists to cap recompute work, and fresh candidates
// need none.
func (s *Service) warmScores(ctx context.Context, posts []*post.Post, ids []string, warmLimit int) (map[string]post.ScoreCacheEntry, error) {
	threshold := s.now().Add(-s.cache.TTL())
	var stale []*post.Post
	for _, p := range posts {
		if p.CachedScoreAt == nil || p.CachedScoreAt.Before(threshold) {
			stale = append(stale, p)
		}
	}

	// The most-boosted stale candidates dominate the ranking and are the
	// ones a stale cache distorts most.
	sort.Slice(stale, func(i, j int) bool {
		if stale[i].BoostCount != stale[j].BoostCount {
			return stale[i].BoostCount > stale[j].BoostCount
		}
		return stale[i].ID < stale[j].ID
	})
	if len(stale) > warmLimit {
		stale = stale[:warmLimit]
	}

	warmIDs := make([]string, len(stale))
	for i, p := range stale {
		warmIDs[i] = p.ID
	}

	entries, err := s.cache.EnsureFresh(ctx, warmIDs)
	if err != nil {
		return nil, fmt.Errorf("score cache warm failed: %w", err)
	}

	// The unwarmed remainder reads its current cache state without refresh.
	warmed := make(map[string]bool, len(warmIDs))
	for _, id := range warmIDs {
		warmed[id] = true
	}
	var coldIDs []string
	for _, id := range ids {
		if !warmed[id] {
			coldIDs = append(coldIDs, id)
		}
	}

	cold, err := s.posts.ScoreCache(ctx, coldIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to read score cache: %w", err)
	}
	for id, entry := range cold {
		entries[id] = entry
	}

	return entries, nil
}

// recordWarm reports one bounded warm pass to the job registry.
func (s *Service) recordWarm(start time.Time, status string) {
	if s.config.JobMetrics == nil {
		return
	}
	duration := s.now().Sub(start).Seconds()
	s.config.JobMetrics.IncJobsTotal(jobTypeCacheWarm, status)
	s.config.JobMetrics.ObserveJobDuration(jobTypeCacheWarm, duration)
}

// clampLimit applies the default and maximum page sizes.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
