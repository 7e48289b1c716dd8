// Package ranking provides the composite engagement-score calculation for
// posts, with calibration support for feed and trending ranking.
//
// # Score Composition
//
// A post's score combines decay-weighted engagement signals:
//
//   - Boost score: the cached decayed sum of boost events, decayed again by
//     post age (12h half-life).
//   - Bookmarks: bookmark count, half-weighted, decayed by post age.
//   - Comments: the sum of per-reply decay factors, half-weighted.
//   - Hashtag alignment: a small bonus when one of the post's tags is
//     currently trending, scaled by how close the tag is to the top tag.
//   - Pinned bonus: a tier-scaled bonus for the author's pinned post,
//     decayed like the boost term.
//
// The sum is then multiplied by a top-level multiplier (top-level posts rank
// slightly above replies at equal raw score) and by a per-deleted-ancestor
// penalty so orphaned reply chains fall out of trending without a hard cutoff.
//
// # Determinism
//
// Score is a pure function of its inputs. The reference time is always passed
// in by the caller, never read from the clock, so a frozen reference time
// yields identical scores across repeated calls. All decay exponents are
// clamped to be non-negative: a post with a future creation timestamp decays
// by a factor of exactly 1.0, never more.
//
// # Calibration
//
// Weights can be tuned via a JSON calibration file loaded at startup; missing
// or partial files degrade gracefully to the defaults.
package ranking
