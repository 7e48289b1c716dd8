package post

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/trendfeed/internal/ranking"
)

// Common errors for post operations.
var (
	ErrPostNotFound   = errors.New("post not found")
	ErrPostDeleted    = errors.New("post has been deleted")
	ErrDuplicateBoost = errors.New("boost already exists for this actor")
	ErrBoostNotFound  = errors.New("boost not found")
)

// Repository defines the data operations the ranking core needs over posts
// and boost events. The ranking core only reads posts and writes the two
// score-cache columns; the boost methods exist so the engagement write path
// can mutate counters and invalidate the cache in one transaction.
type Repository interface {
	// Create inserts a new post with a generated UUID.
	Create(ctx context.Context, p *Post) error

	// GetByID retrieves a post by ID, excluding soft-deleted posts.
	GetByID(ctx context.Context, id string) (*Post, error)

	// GetMany retrieves posts by ID, silently skipping missing and
	// soft-deleted posts. Order of the result is unspecified.
	GetMany(ctx context.Context, ids []string) ([]*Post, error)

	// SoftDelete marks a post deleted by setting deleted_at.
	SoftDelete(ctx context.Context, id string) error

	// RecentPostIDs returns IDs of posts created within the window before
	// asOf, newest first, capped at limit.
	RecentPostIDs(ctx context.Context, scope Scope, asOf time.Time, window time.Duration, limit int) ([]string, error)

	// TopEngagedPostIDs returns IDs of the top posts by the given counter
	// within the scope's lookback, requiring counter > 0, capped at limit.
	TopEngagedPostIDs(ctx context.Context, scope Scope, asOf time.Time, counter Counter, limit int) ([]string, error)

	// EngagedReplyIDs returns IDs of replies with any engagement within the
	// scope's lookback, capped at limit. Ignores scope.TopLevelOnly.
	EngagedReplyIDs(ctx context.Context, scope Scope, asOf time.Time, limit int) ([]string, error)

	// ReplyTimes returns, for each requested post, the creation times of its
	// non-deleted direct replies. Posts without replies are absent.
	ReplyTimes(ctx context.Context, ids []string) (map[string][]time.Time, error)

	// CountDeletedAncestors returns, per post, how many of its ancestors
	// (immediate parent, plus root when distinct) are soft-deleted.
	// Posts with zero deleted ancestors are absent from the map.
	CountDeletedAncestors(ctx context.Context, ids []string) (map[string]int, error)

	// ScoreCache reads the score-cache pair for the requested posts. Posts
	// whose cache was never computed (or that don't exist) are absent.
	ScoreCache(ctx context.Context, ids []string) (map[string]ScoreCacheEntry, error)

	// UpdateScoreCache bulk-writes recomputed scores and the shared
	// computed-at timestamp to the cache columns.
	UpdateScoreCache(ctx context.Context, scores map[string]float64, at time.Time) error

	// ClearScoreCache nulls both cache columns for a post. Missing posts are
	// a no-op.
	ClearScoreCache(ctx context.Context, id string) error

	// AddBoost records a boost event, increments the post's boost counter,
	// and clears the score cache, atomically. Returns ErrDuplicateBoost if
	// the actor already boosted the post.
	AddBoost(ctx context.Context, b *Boost) error

	// RemoveBoost deletes a boost event, decrements the counter, and clears
	// the score cache, atomically. Returns ErrBoostNotFound if absent.
	RemoveBoost(ctx context.Context, postID, actorID string) error

	// SumDecayedBoosts recomputes, per post, the sum over its boost events of
	// tier_weight * 0.5^(age/halfLife) at the given reference time. Posts
	// with no boosts are absent from the map.
	SumDecayedBoosts(ctx context.Context, ids []string, asOf time.Time, halfLife time.Duration) (map[string]float64, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex. Used by unit tests and local development.
type InMemoryRepository struct {
	mu     sync.RWMutex
	posts  map[string]*Post
	boosts map[string]map[string]*Boost // postID -> actorID -> boost
}

// NewInMemoryRepository creates a new in-memory post repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		posts:  make(map[string]*Post),
		boosts: make(map[string]map[string]*Boost),
	}
}

// Create inserts a new post with a generated UUID.
func (r *InMemoryRepository) Create(_ context.Context, p *Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Visibility == "" {
		p.Visibility = VisibilityPublic
	}

	postCopy := *p
	r.posts[p.ID] = &postCopy
	return nil
}

// GetByID retrieves a post by ID, excluding soft-deleted posts.
func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.posts[id]
	if !ok || p.DeletedAt != nil {
		return nil, ErrPostNotFound
	}

	postCopy := *p
	return &postCopy, nil
}

// GetMany retrieves posts by ID, silently skipping missing and deleted posts.
func (r *InMemoryRepository) GetMany(_ context.Context, ids []string) ([]*Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*Post, 0, len(ids))
	for _, id := range ids {
		p, ok := r.posts[id]
		if !ok || p.DeletedAt != nil {
			continue
		}
		postCopy := *p
		results = append(results, &postCopy)
	}
	return results, nil
}

// SoftDelete marks a post deleted by setting deleted_at.
func (r *InMemoryRepository) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return ErrPostNotFound
	}
	if p.DeletedAt != nil {
		return ErrPostNotFound
	}

	now := time.Now()
	p.DeletedAt = &now
	return nil
}

// RecentPostIDs returns IDs of posts created within the window before asOf.
func (r *InMemoryRepository) RecentPostIDs(_ context.Context, scope Scope, asOf time.Time, window time.Duration, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := asOf.Add(-window)
	var candidates []*Post
	for _, p := range r.posts {
		if !scope.Matches(p, asOf) {
			continue
		}
		if p.CreatedAt.Before(cutoff) || p.CreatedAt.After(asOf) {
			continue
		}
		candidates = append(candidates, p)
	}

	sortByCreatedDesc(candidates)
	return capIDs(candidates, limit), nil
}

// TopEngagedPostIDs returns the top posts by one counter within the lookback.
func (r *InMemoryRepository) TopEngagedPostIDs(_ context.Context, scope Scope, asOf time.Time, counter Counter, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*Post
	for _, p := range r.posts {
		if !scope.Matches(p, asOf) {
			continue
		}
		if counterValue(p, counter) <= 0 {
			continue
		}
		candidates = append(candidates, p)
	}

	sort.Slice(candidates, func(i, j int) bool {
		vi, vj := counterValue(candidates[i], counter), counterValue(candidates[j], counter)
		if vi != vj {
			return vi > vj
		}
		// Tie-break by ID for deterministic ordering
		return candidates[i].ID < candidates[j].ID
	})

	return capIDs(candidates, limit), nil
}

// EngagedReplyIDs returns replies with any engagement within the lookback.
func (r *InMemoryRepository) EngagedReplyIDs(_ context.Context, scope Scope, asOf time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Replies are requested explicitly, so the top-level constraint is lifted
	// for this bucket only.
	replyScope := scope
	replyScope.TopLevelOnly = false

	var candidates []*Post
	for _, p := range r.posts {
		if !replyScope.Matches(p, asOf) {
			continue
		}
		if !p.IsReply() {
			continue
		}
		if p.BoostCount <= 0 && p.BookmarkCount <= 0 && p.CommentCount <= 0 {
			continue
		}
		candidates = append(candidates, p)
	}

	sortByCreatedDesc(candidates)
	return capIDs(candidates, limit), nil
}

// ReplyTimes returns creation times of non-deleted direct replies per post.
func (r *InMemoryRepository) ReplyTimes(_ context.Context, ids []string) (map[string][]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	result := make(map[string][]time.Time)
	for _, p := range r.posts {
		if p.DeletedAt != nil || p.InReplyTo == nil {
			continue
		}
		if wanted[*p.InReplyTo] {
			result[*p.InReplyTo] = append(result[*p.InReplyTo], p.CreatedAt)
		}
	}
	return result, nil
}

// CountDeletedAncestors counts soft-deleted ancestors per post.
func (r *InMemoryRepository) CountDeletedAncestors(_ context.Context, ids []string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]int)
	for _, id := range ids {
		p, ok := r.posts[id]
		if !ok {
			continue
		}

		count := 0
		if p.InReplyTo != nil {
			if parent, ok := r.posts[*p.InReplyTo]; ok && parent.DeletedAt != nil {
				count++
			}
		}
		if p.RootID != nil && (p.InReplyTo == nil || *p.RootID != *p.InReplyTo) {
			if root, ok := r.posts[*p.RootID]; ok && root.DeletedAt != nil {
				count++
			}
		}
		if count > 0 {
			result[id] = count
		}
	}
	return result, nil
}

// ScoreCache reads the score-cache pair for the requested posts.
func (r *InMemoryRepository) ScoreCache(_ context.Context, ids []string) (map[string]ScoreCacheEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]ScoreCacheEntry)
	for _, id := range ids {
		p, ok := r.posts[id]
		if !ok || p.CachedScore == nil || p.CachedScoreAt == nil {
			continue
		}
		result[id] = ScoreCacheEntry{Score: *p.CachedScore, UpdatedAt: *p.CachedScoreAt}
	}
	return result, nil
}

// UpdateScoreCache bulk-writes recomputed scores to the cache columns.
func (r *InMemoryRepository) UpdateScoreCache(_ context.Context, scores map[string]float64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, score := range scores {
		p, ok := r.posts[id]
		if !ok {
			continue
		}
		s := score
		t := at
		p.CachedScore = &s
		p.CachedScoreAt = &t
	}
	return nil
}

// ClearScoreCache nulls both cache columns for a post.
func (r *InMemoryRepository) ClearScoreCache(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.posts[id]; ok {
		p.CachedScore = nil
		p.CachedScoreAt = nil
	}
	return nil
}

// AddBoost records a boost, increments the counter, and clears the cache.
func (r *InMemoryRepository) AddBoost(_ context.Context, b *Boost) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[b.PostID]
	if !ok || p.DeletedAt != nil {
		return ErrPostNotFound
	}

	actors := r.boosts[b.PostID]
	if actors == nil {
		actors = make(map[string]*Boost)
		r.boosts[b.PostID] = actors
	}
	if _, exists := actors[b.ActorID]; exists {
		return ErrDuplicateBoost
	}

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	boostCopy := *b
	actors[b.ActorID] = &boostCopy

	p.BoostCount++
	p.CachedScore = nil
	p.CachedScoreAt = nil
	return nil
}

// RemoveBoost deletes a boost, decrements the counter, and clears the cache.
func (r *InMemoryRepository) RemoveBoost(_ context.Context, postID, actorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	actors := r.boosts[postID]
	if actors == nil {
		return ErrBoostNotFound
	}
	if _, exists := actors[actorID]; !exists {
		return ErrBoostNotFound
	}
	delete(actors, actorID)

	if p, ok := r.posts[postID]; ok {
		if p.BoostCount > 0 {
			p.BoostCount--
		}
		p.CachedScore = nil
		p.CachedScoreAt = nil
	}
	return nil
}

// SumDecayedBoosts recomputes decayed boost sums per post.
func (r *InMemoryRepository) SumDecayedBoosts(_ context.Context, ids []string, asOf time.Time, halfLife time.Duration) (map[string]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]float64)
	for _, id := range ids {
		actors := r.boosts[id]
		if len(actors) == 0 {
			continue
		}
		var sum float64
		for _, b := range actors {
			sum += ranking.TierWeight(b.ActorTier) * ranking.Decay(asOf, b.CreatedAt, halfLife)
		}
		result[id] = sum
	}
	return result, nil
}

// Boosts returns the boost events for a post (for testing).
func (r *InMemoryRepository) Boosts(postID string) []*Boost {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actors := r.boosts[postID]
	result := make([]*Boost, 0, len(actors))
	for _, b := range actors {
		boostCopy := *b
		result = append(result, &boostCopy)
	}
	return result
}

// counterValue returns the value of the named counter on a post.
func counterValue(p *Post, c Counter) int {
	switch c {
	case CounterBoosts:
		return p.BoostCount
	case CounterBookmarks:
		return p.BookmarkCount
	case CounterComments:
		return p.CommentCount
	}
	return 0
}

// sortByCreatedDesc sorts posts by created_at DESC, ID ASC for tie-breaking.
func sortByCreatedDesc(posts []*Post) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt.After(posts[j].CreatedAt) {
			return true
		}
		if posts[i].CreatedAt.Before(posts[j].CreatedAt) {
			return false
		}
		return posts[i].ID < posts[j].ID
	})
}

// capIDs extracts at most limit IDs from a sorted candidate slice.
func capIDs(posts []*Post, limit int) []string {
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
