package ranking

import (
	"math"
	"time"
)

// PostParams holds the signals needed to score one post.
// CachedScore carries the materialized decayed boost sum; a post whose cache
// was never computed scores its boost term as zero, it is never excluded.
type PostParams struct {
	CreatedAt     time.Time
	CachedScore   float64 // materialized decayed boost sum (0 if never computed)
	BookmarkCount int
	CommentSignal float64 // sum of per-reply decay factors (ScoreHalfLife)
	TagTrend      float64 // trend score of the post's best hashtag
	MaxTagTrend   float64 // global max tag trend score (0 disables the bonus)
	Pinned        bool    // post is its author's pinned post
	AuthorTier    int     // author tier, scales the pinned bonus
	IsReply       bool
	// DeletedAncestors counts soft-deleted ancestors: the immediate parent,
	// plus the root when it is distinct from the parent. Range 0-2.
	DeletedAncestors int
}

// Score computes the composite engagement score for a post at the given
// reference time. Pure and deterministic: the same inputs always produce the
// same score.
func Score(p PostParams, now time.Time, w *Weights) float64 {
	if w == nil {
		w = DefaultWeights()
	}

	ageDecay := Decay(now, p.CreatedAt, ScoreHalfLife)

	score := p.CachedScore * ageDecay
	score += float64(p.BookmarkCount) * w.Bookmark * ageDecay
	score += p.CommentSignal * w.Comment
	score += tagBonus(p.TagTrend, p.MaxTagTrend, w)

	if p.Pinned {
		score += TierWeight(p.AuthorTier) * w.PinnedBase * ageDecay
	}

	if !p.IsReply {
		score *= w.TopLevelMultiplier
	}

	if p.DeletedAncestors > 0 {
		score *= math.Pow(w.DeletedAncestorPenalty, float64(p.DeletedAncestors))
	}

	return score
}

// CommentSignal computes the decayed comment term from reply creation times.
// Each reply contributes its own age-decay factor, so a burst of fresh replies
// outweighs the same number of old ones.
func CommentSignal(now time.Time, replyTimes []time.Time) float64 {
	var sum float64
	for _, t := range replyTimes {
		sum += Decay(now, t, ScoreHalfLife)
	}
	return sum
}

// tagBonus returns the hashtag alignment bonus: zero when the post has no
// trending tag, otherwise a base bonus plus a share of the max bonus scaled by
// how the post's best tag compares to the global top tag.
func tagBonus(tagTrend, maxTagTrend float64, w *Weights) float64 {
	if tagTrend <= 0 || maxTagTrend <= 0 {
		return 0
	}

	ratio := tagTrend / maxTagTrend
	if ratio > 1 {
		ratio = 1
	}

	return w.TagBonusBase + w.TagBonusMax*ratio
}
