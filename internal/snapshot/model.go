// Package snapshot precomputes trending rankings into generations of
// snapshot rows, each generation identified by a shared as-of timestamp.
// One recurring batch job is the only writer and the only deleter.
package snapshot

import (
	"time"
)

// Row is one precomputed ranking entry. The post's scope columns (author,
// visibility, reply references) are denormalized onto the row so reads can
// filter a generation without joining back to posts.
type Row struct {
	AsOf       time.Time `json:"as_of"`
	PostID     string    `json:"post_id"`
	CreatedAt  time.Time `json:"created_at"` // the post's creation time (pagination tiebreak)
	Score      float64   `json:"score"`
	AuthorID   string    `json:"author_id"`
	Visibility string    `json:"visibility"`
	InReplyTo  *string   `json:"in_reply_to,omitempty"`
	RootID     *string   `json:"root_id,omitempty"`
}

// PageQuery selects one page from a generation under the strict
// (score DESC, created_at DESC, post_id DESC) order. When HasAfter is set,
// only rows strictly after the given key are returned.
type PageQuery struct {
	AsOf         time.Time
	Visibilities []string
	TopLevelOnly bool

	AfterScore     float64
	AfterCreatedAt time.Time
	AfterID        string
	HasAfter       bool

	Limit int
}

// rowAfterKey reports whether a row sorts strictly after the page key under
// the descending ranking order: lower score, or equal score and earlier
// creation, or equal on both and a smaller id.
func rowAfterKey(r Row, q PageQuery) bool {
	if r.Score != q.AfterScore {
		return r.Score < q.AfterScore
	}
	if !r.CreatedAt.Equal(q.AfterCreatedAt) {
		return r.CreatedAt.Before(q.AfterCreatedAt)
	}
	return r.PostID < q.AfterID
}

// rowLess orders rows by (score DESC, created_at DESC, post_id DESC).
func rowLess(a, b Row) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.PostID > b.PostID
}
