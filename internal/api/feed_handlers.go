// Package api provides HTTP API handlers for the trendfeed API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/trendfeed/internal/feed"
	"github.com/onnwee/trendfeed/internal/middleware"
	"github.com/onnwee/trendfeed/internal/post"
)

// FeedRanker serves ranked feed pages.
type FeedRanker interface {
	Rank(ctx context.Context, req feed.Request) (*feed.Page, error)
}

// FeedHandlers provides the ranked feed endpoints.
type FeedHandlers struct {
	ranker   FeedRanker
	maxLimit int
}

// NewFeedHandlers creates feed handlers backed by the given ranker.
func NewFeedHandlers(ranker FeedRanker, maxLimit int) *FeedHandlers {
	if maxLimit <= 0 {
		maxLimit = feed.MaxLimit
	}
	return &FeedHandlers{ranker: ranker, maxLimit: maxLimit}
}

// GetTrendingFeed handles GET /feeds/trending - the precomputed snapshot feed.
//
// Query parameters:
//   - cursor: opaque pagination token from a previous page
//   - limit: page size (clamped to the configured maximum)
func (h *FeedHandlers) GetTrendingFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	// Snapshot rows already reflect the selection scope, including the
	// engaged-reply carve-out, so the read side only narrows visibility.
	// Filtering replies here again would drop rows the batch meant to serve.
	h.serve(w, r, feed.Request{
		Scope: post.Scope{
			Visibilities: []string{post.VisibilityPublic},
		},
		Source: feed.SourceSnapshot,
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
}

// GetHomeFeed handles GET /feeds/home - a live-scored feed over the public
// timeline, replies included.
func (h *FeedHandlers) GetHomeFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	h.serve(w, r, feed.Request{
		Scope: post.Scope{
			Visibilities: []string{post.VisibilityPublic, post.VisibilityUnlisted},
		},
		Source: feed.SourceLive,
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
}

// GetProfileFeed handles GET /feeds/profile/{author} - a live-scored feed of
// one author's posts.
func (h *FeedHandlers) GetProfileFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	authorID := strings.TrimPrefix(r.URL.Path, "/feeds/profile/")
	if authorID == "" || strings.Contains(authorID, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Author ID is required")
		return
	}

	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	h.serve(w, r, feed.Request{
		Scope: post.Scope{
			Visibilities: []string{post.VisibilityPublic, post.VisibilityUnlisted},
			AuthorIDs:    []string{authorID},
		},
		Source: feed.SourceLive,
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
}

// serve runs the ranker and writes the page.
func (h *FeedHandlers) serve(w http.ResponseWriter, r *http.Request, req feed.Request) {
	page, err := h.ranker.Rank(r.Context(), req)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to rank feed", "error", err, "source", string(req.Source))
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve feed")
		return
	}

	WriteJSON(w, http.StatusOK, page)
}

// parseLimit validates the limit query parameter. A zero return with ok=true
// means the caller should apply its default.
func (h *FeedHandlers) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 0, true
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Invalid limit parameter")
		return 0, false
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}
	return limit, true
}
