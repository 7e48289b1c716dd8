package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Weights holds the tunable coefficients of the composite score.
type Weights struct {
	Bookmark               float64 `json:"bookmark"`                 // weight on the bookmark term (default: 0.5)
	Comment                float64 `json:"comment"`                  // weight on the comment term (default: 0.5)
	TagBonusBase           float64 `json:"tag_bonus_base"`           // flat bonus for any trending tag (default: 0.05)
	TagBonusMax            float64 `json:"tag_bonus_max"`            // additional bonus at the top trending tag (default: 0.15)
	PinnedBase             float64 `json:"pinned_base"`              // base pinned bonus before tier scaling (default: 1.0)
	TopLevelMultiplier     float64 `json:"top_level_multiplier"`     // multiplier for posts with no parent (default: 1.15)
	DeletedAncestorPenalty float64 `json:"deleted_ancestor_penalty"` // per-deleted-ancestor multiplier (default: 0.85)
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Config version for future compatibility
	Weights Weights `json:"weights"` // Weight configuration
}

// DefaultWeights returns the default scoring coefficients.
//
// Formula:
//
//	score = (cached_boost_score * age_decay)
//	      + (bookmarks * 0.5 * age_decay)
//	      + (comment_signal * 0.5)
//	      + tag_bonus(0.05 .. 0.20)
//	      + pinned_bonus(tier * 1.0 * age_decay)
//	then  * 1.15 if top-level, * 0.85^deleted_ancestors
func DefaultWeights() *Weights {
	return &Weights{
		Bookmark:               0.5,
		Comment:                0.5,
		TagBonusBase:           0.05,
		TagBonusMax:            0.15,
		PinnedBase:             1.0,
		TopLevelMultiplier:     1.15,
		DeletedAncestorPenalty: 0.85,
	}
}

// LoadCalibration loads scoring weights from a JSON calibration file.
// If the file doesn't exist or can't be parsed, returns default weights along
// with the error so callers can log and continue; ranking must never fail to
// start over a bad calibration file.
// Zero-valued fields in the file are backfilled from the defaults, so partial
// calibrations only override what they name.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read weights calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse weights calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	w := config.Weights
	defaults := DefaultWeights()

	if w.Bookmark == 0 {
		w.Bookmark = defaults.Bookmark
	}
	if w.Comment == 0 {
		w.Comment = defaults.Comment
	}
	if w.TagBonusBase == 0 {
		w.TagBonusBase = defaults.TagBonusBase
	}
	if w.TagBonusMax == 0 {
		w.TagBonusMax = defaults.TagBonusMax
	}
	if w.PinnedBase == 0 {
		w.PinnedBase = defaults.PinnedBase
	}
	if w.TopLevelMultiplier == 0 {
		w.TopLevelMultiplier = defaults.TopLevelMultiplier
	}
	if w.DeletedAncestorPenalty == 0 {
		w.DeletedAncestorPenalty = defaults.DeletedAncestorPenalty
	}

	slog.Info("loaded weights calibration",
		"path", filePath,
		"version", config.Version)

	return &w, nil
}
