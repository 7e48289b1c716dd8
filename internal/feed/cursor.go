// Package feed assembles ranked, stably paginated feeds from live scoring or
// precomputed snapshot generations, behind a single pagination contract.
package feed

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// CursorVersion is the current cursor payload version. Decode rejects other
// versions so a scoring-formula change can retire outstanding cursors by
// bumping it; rejected cursors just restart the scroll.
const CursorVersion = 1

// Cursor captures where a scroll session stopped: the scoring epoch it was
// started under and the last item's ranking key. It travels to the client as
// an opaque token and is never persisted server-side.
type Cursor struct {
	Version   int       `json:"v"`
	AsOf      time.Time `json:"as_of"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// EncodeCursor serializes a cursor to an opaque URL-safe token.
func EncodeCursor(c Cursor) string {
	c.Version = CursorVersion
	data, err := json.Marshal(c)
	if err != nil {
		// Cursor contains only scalars; marshal cannot fail.
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses an opaque token back into a cursor. Returns nil for
// empty, malformed, wrong-version, or incomplete tokens; callers treat nil as
// "no cursor" and serve a fresh first page.
func DecodeCursor(token string) *Cursor {
	if token == "" {
		return nil
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil
	}
	if c.Version != CursorVersion {
		return nil
	}
	if c.AsOf.IsZero() || c.ID == "" {
		return nil
	}

	return &c
}

// After reports whether an item's ranking key sorts strictly after the cursor
// under the (score DESC, createdAt DESC, id DESC) total order: lower score,
// or equal score and earlier creation, or equal on both and a smaller id.
func (c *Cursor) After(score float64, createdAt time.Time, id string) bool {
	if score != c.Score {
		return score < c.Score
	}
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.Before(c.CreatedAt)
	}
	return id < c.ID
}
