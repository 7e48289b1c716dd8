// Package post provides the post model and repositories for ranked feed
// reads, engagement counters, and the materialized score cache.
package post

import (
	"time"
)

// Visibility tags. Which tags a caller may see is resolved upstream; this
// package only filters by an already-resolved allow-list.
const (
	VisibilityPublic    = "public"
	VisibilityUnlisted  = "unlisted"
	VisibilityFollowers = "followers"
)

// Post represents a ranked post with its engagement counters and the two
// materialized score-cache columns.
type Post struct {
	ID         string  `json:"id"`
	AuthorID   string  `json:"author_id"`
	AuthorTier int     `json:"author_tier"`
	Visibility string  `json:"visibility"`
	Text       string  `json:"text"`
	InReplyTo  *string `json:"in_reply_to,omitempty"`
	RootID     *string `json:"root_id,omitempty"`
	Pinned     bool    `json:"pinned"`

	// Engagement counters, mutated by the write paths.
	BoostCount    int `json:"boost_count"`
	BookmarkCount int `json:"bookmark_count"`
	CommentCount  int `json:"comment_count"`

	// Score cache. Both are nil together ("never computed") or set together;
	// a nil pair is treated exactly like a stale entry.
	CachedScore   *float64   `json:"cached_score,omitempty"`
	CachedScoreAt *time.Time `json:"cached_score_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsReply reports whether the post has a parent.
func (p *Post) IsReply() bool {
	return p.InReplyTo != nil
}

// Boost is an engagement event: one actor boosting one post.
// Unique per (PostID, ActorID). The actor's tier is denormalized onto the
// event at write time so score recomputation stays a single-table aggregate.
type Boost struct {
	PostID    string    `json:"post_id"`
	ActorID   string    `json:"actor_id"`
	ActorTier int       `json:"actor_tier"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoreCacheEntry is one post's materialized score-cache pair.
type ScoreCacheEntry struct {
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counter identifies one engagement counter for top-N bucket queries.
type Counter string

// Engagement counters usable as candidate buckets.
const (
	CounterBoosts    Counter = "boosts"
	CounterBookmarks Counter = "bookmarks"
	CounterComments  Counter = "comments"
)

// Scope filters which posts a ranked read may consider. Visibilities is the
// caller's resolved allow-list; AuthorIDs, when non-empty, restricts to those
// authors (profile and home feeds). Soft-deleted posts are always excluded.
type Scope struct {
	Visibilities []string
	AuthorIDs    []string
	TopLevelOnly bool
	Lookback     time.Duration
}

// Matches reports whether a post passes the scope filter at the given
// reference time. Used by the in-memory repository; the Postgres repository
// expresses the same predicate in SQL.
func (s Scope) Matches(p *Post, asOf time.Time) bool {
	if p.DeletedAt != nil {
		return false
	}
	if s.TopLevelOnly && p.IsReply() {
		return false
	}
	if s.Lookback > 0 && p.CreatedAt.Before(asOf.Add(-s.Lookback)) {
		return false
	}
	if len(s.Visibilities) > 0 && !contains(s.Visibilities, p.Visibility) {
		return false
	}
	if len(s.AuthorIDs) > 0 && !contains(s.AuthorIDs, p.AuthorID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
