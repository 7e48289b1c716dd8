package feed

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/trendfeed/internal/engagement"
	"github.com/onnwee/trendfeed/internal/post"
	"github.com/onnwee/trendfeed/internal/snapshot"
)

var serviceTestNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

type serviceFixture struct {
	repo      *post.InMemoryRepository
	snapshots *snapshot.InMemoryStore
	service   *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	repo := post.NewInMemoryRepository()
	snapshots := snapshot.NewInMemoryStore()
	cache := engagement.NewCache(repo, engagement.Config{
		Now: func() time.Time { return serviceTestNow },
	})

	svc := NewService(repo, cache, snapshots, nil, nil, ServiceConfig{
		Now: func() time.Time { return serviceTestNow },
	})

	return &serviceFixture{repo: repo, snapshots: snapshots, service: svc}
}

func (f *serviceFixture) createPost(t *testing.T, id string, createdAgo time.Duration, cachedScore float64) {
	t.Helper()
	ctx := context.Background()

	p := &post.Post{
		ID:         id,
		AuthorID:   "author-" + id,
		Visibility: post.VisibilityPublic,
		Text:       "post " + id,
		CreatedAt:  serviceTestNow.Add(-createdAgo),
	}
	if err := f.repo.Create(ctx, p); err != nil {
		t.Fatalf("failed to create post %s: %v", id, err)
	}
	if cachedScore != 0 {
		// A fresh cache entry, so live scoring uses it as-is.
		if err := f.repo.UpdateScoreCache(ctx, map[string]float64{id: cachedScore}, serviceTestNow); err != nil {
			t.Fatalf("failed to seed cache for %s: %v", id, err)
		}
	}
}

func publicScope() post.Scope {
	return post.Scope{Visibilities: []string{post.VisibilityPublic}}
}

// TestRankLive_ReferenceExample covers the reference pagination scenario:
// A (cachedScore=10) and B (cachedScore=5), both 1h old; limit=1 returns [A]
// and a cursor; the cursor request returns [B].
func TestRankLive_ReferenceExample(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.createPost(t, "A", time.Hour, 10)
	f.createPost(t, "B", time.Hour, 5)

	page1, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceLive, Limit: 1})
	if err != nil {
		t.Fatalf("page 1 failed: %v", err)
	}
	if len(page1.Items) != 1 || page1.Items[0].PostID != "A" {
		t.Fatalf("page 1 = %+v, want [A]", page1.Items)
	}
	if page1.Items[0].Score < 9.5 || page1.Items[0].Score > 11.0 {
		t.Errorf("A score = %v, want ~9.55 (x1.15 top-level)", page1.Items[0].Score)
	}
	if page1.NextCursor == "" {
		t.Fatal("page 1 should carry a next cursor")
	}

	page2, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceLive, Cursor: page1.NextCursor, Limit: 1})
	if err != nil {
		t.Fatalf("page 2 failed: %v", err)
	}
	if len(page2.Items) != 1 || page2.Items[0].PostID != "B" {
		t.Fatalf("page 2 = %+v, want [B]", page2.Items)
	}
	if page2.NextCursor != "" {
		t.Errorf("page 2 cursor = %q, want empty on last page", page2.NextCursor)
	}
}

// TestRankLive_CursorStability pages through a fixed set and checks the
// no-duplicate, no-gap, strictly-decreasing invariants.
func TestRankLive_CursorStability(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	const total = 17
	for i := 0; i < total; i++ {
		id := string(rune('a' + i))
		f.createPost(t, id, time.Duration(i+1)*time.Hour, float64(total-i))
	}

	seen := make(map[string]bool)
	var lastScore float64
	var lastCreated time.Time
	var lastID string
	first := true

	cursor := ""
	pages := 0
	for {
		page, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceLive, Cursor: cursor, Limit: 5})
		if err != nil {
			t.Fatalf("page %d failed: %v", pages, err)
		}
		for _, item := range page.Items {
			if seen[item.PostID] {
				t.Fatalf("duplicate item %s across pages", item.PostID)
			}
			seen[item.PostID] = true

			if !first {
				descending := item.Score < lastScore ||
					(item.Score == lastScore && item.CreatedAt.Before(lastCreated)) ||
					(item.Score == lastScore && item.CreatedAt.Equal(lastCreated) && item.PostID < lastID)
				if !descending {
					t.Fatalf("order violation: %s (%v) after %s (%v)", item.PostID, item.Score, lastID, lastScore)
				}
			}
			first = false
			lastScore, lastCreated, lastID = item.Score, item.CreatedAt, item.PostID
		}

		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		if pages > total {
			t.Fatal("pagination did not terminate")
		}
	}

	if len(seen) != total {
		t.Errorf("saw %d items across pages, want %d (no gaps)", len(seen), total)
	}
}

// TestRankLive_AsOfFrozenAcrossPages verifies every page of a scroll session
// reuses the first page's scoring epoch verbatim.
func TestRankLive_AsOfFrozenAcrossPages(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		f.createPost(t, string(rune('a'+i)), time.Hour, float64(10-i))
	}

	page1, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceLive, Limit: 2})
	if err != nil {
		t.Fatalf("page 1 failed: %v", err)
	}
	if !page1.AsOf.Equal(serviceTestNow) {
		t.Errorf("page 1 asOf = %v, want %v", page1.AsOf, serviceTestNow)
	}

	page2, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceLive, Cursor: page1.NextCursor, Limit: 2})
	if err != nil {
		t.Fatalf("page 2 failed: %v", err)
	}
	if !page2.AsOf.Equal(page1.AsOf) {
		t.Errorf("asOf drifted mid-scroll: %v != %v", page2.AsOf, page1.AsOf)
	}

	decoded := DecodeCursor(page2.NextCursor)
	if decoded == nil {
		t.Fatal("page 2 cursor should decode")
	}
	if !decoded.AsOf.Equal(page1.AsOf) {
		t.Errorf("cursor asOf = %v, want frozen %v", decoded.AsOf, page1.AsOf)
	}
}

func TestRankLive_MalformedCursorStartsFresh(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.createPost(t, "A", time.Hour, 10)

	page, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceLive, Cursor: "garbage!!!", Limit: 10})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].PostID != "A" {
		t.Errorf("got %+v, want fresh first page [A]", page.Items)
	}
}

func TestRankLive_EmptyScope(t *testing.T) {
	f := newServiceFixture(t)

	page, err := f.service.Rank(context.Background(), Request{Scope: publicScope(), Source: SourceLive})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(page.Items) != 0 || page.NextCursor != "" {
		t.Errorf("got %+v, want empty page with no cursor", page)
	}
}

func TestRankLive_DefaultAndMaxLimit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		f.createPost(t, id, time.Hour, float64(100-i))
	}

	page, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceLive})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(page.Items) != DefaultLimit {
		t.Errorf("default limit page has %d items, want %d", len(page.Items), DefaultLimit)
	}

	page, err = f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceLive, Limit: 500})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(page.Items) != MaxLimit {
		t.Errorf("oversized limit page has %d items, want clamp to %d", len(page.Items), MaxLimit)
	}
}

func seedGeneration(t *testing.T, store *snapshot.InMemoryStore, asOf time.Time, n int) {
	t.Helper()
	rows := make([]snapshot.Row, n)
	for i := 0; i < n; i++ {
		rows[i] = snapshot.Row{
			AsOf:       asOf,
			PostID:     "s" + string(rune('a'+i)),
			CreatedAt:  asOf.Add(-time.Duration(i+1) * time.Hour),
			Score:      float64(n - i),
			AuthorID:   "author",
			Visibility: post.VisibilityPublic,
		}
	}
	if err := store.ReplaceGeneration(context.Background(), asOf, rows, asOf.Add(-time.Hour)); err != nil {
		t.Fatalf("failed to seed generation: %v", err)
	}
}

func TestRankSnapshotMode_ReadsLatestGeneration(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	asOf := serviceTestNow.Add(-10 * time.Minute)
	seedGeneration(t, f.snapshots, asOf, 5)

	page, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceSnapshot, Limit: 3})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if !page.AsOf.Equal(asOf) {
		t.Errorf("page asOf = %v, want generation %v", page.AsOf, asOf)
	}
	if len(page.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(page.Items))
	}
	if page.Items[0].PostID != "sa" {
		t.Errorf("first item = %s, want sa (highest score)", page.Items[0].PostID)
	}
	if page.NextCursor == "" {
		t.Error("expected a next cursor with rows remaining")
	}
}

// TestRankSnapshotMode_MidScrollIsolation commits a new generation mid-scroll
// and verifies the in-flight cursor keeps reading the prior generation.
func TestRankSnapshotMode_MidScrollIsolation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	oldAsOf := serviceTestNow.Add(-20 * time.Minute)
	seedGeneration(t, f.snapshots, oldAsOf, 6)

	page1, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceSnapshot, Limit: 2})
	if err != nil {
		t.Fatalf("page 1 failed: %v", err)
	}

	// New generation lands while the client is mid-scroll. Retention keeps
	// the old one alive.
	newAsOf := serviceTestNow.Add(-time.Minute)
	seedGeneration(t, f.snapshots, newAsOf, 6)

	page2, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceSnapshot, Cursor: page1.NextCursor, Limit: 2})
	if err != nil {
		t.Fatalf("page 2 failed: %v", err)
	}
	if !page2.AsOf.Equal(oldAsOf) {
		t.Errorf("page 2 asOf = %v, want prior generation %v", page2.AsOf, oldAsOf)
	}
	for _, item := range page2.Items {
		if item.PostID == page1.Items[0].PostID || item.PostID == page1.Items[1].PostID {
			t.Errorf("item %s duplicated across pages", item.PostID)
		}
	}

	// A fresh cursor-less request picks the new generation.
	fresh, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceSnapshot, Limit: 2})
	if err != nil {
		t.Fatalf("fresh page failed: %v", err)
	}
	if !fresh.AsOf.Equal(newAsOf) {
		t.Errorf("fresh asOf = %v, want new generation %v", fresh.AsOf, newAsOf)
	}
}

// A cursor referencing a generation that aged out restarts on the current
// generation instead of erroring.
func TestRankSnapshotMode_ExpiredGenerationFallsBack(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	expiredAsOf := serviceTestNow.Add(-3 * time.Hour)
	cursor := EncodeCursor(Cursor{AsOf: expiredAsOf, Score: 3, CreatedAt: serviceTestNow, ID: "sx"})

	currentAsOf := serviceTestNow.Add(-5 * time.Minute)
	seedGeneration(t, f.snapshots, currentAsOf, 4)

	page, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceSnapshot, Cursor: cursor, Limit: 2})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if !page.AsOf.Equal(currentAsOf) {
		t.Errorf("asOf = %v, want fallback to current %v", page.AsOf, currentAsOf)
	}
	if len(page.Items) != 2 || page.Items[0].PostID != "sa" {
		t.Errorf("got %+v, want fresh first page", page.Items)
	}
}

func TestRankSnapshotMode_NoGenerationYet(t *testing.T) {
	f := newServiceFixture(t)

	page, err := f.service.Rank(context.Background(), Request{Scope: publicScope(), Source: SourceSnapshot})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(page.Items) != 0 || page.NextCursor != "" {
		t.Errorf("got %+v, want empty page before first batch", page)
	}
}

// TestRankSnapshot_ProducesOrderedCappedRows exercises the batch entry point
// the scheduler calls.
func TestRankSnapshot_ProducesOrderedCappedRows(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		f.createPost(t, string(rune('a'+i)), time.Hour, float64(20-i))
	}

	rows, err := f.service.RankSnapshot(ctx, serviceTestNow, 5)
	if err != nil {
		t.Fatalf("RankSnapshot failed: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want maxRows cap of 5", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Score > rows[i-1].Score {
			t.Errorf("rows out of order at %d: %v > %v", i, rows[i].Score, rows[i-1].Score)
		}
	}
	for _, row := range rows {
		if !row.AsOf.Equal(serviceTestNow) {
			t.Errorf("row asOf = %v, want %v", row.AsOf, serviceTestNow)
		}
		if row.AuthorID == "" || row.Visibility == "" {
			t.Errorf("row %s missing denormalized scope columns", row.PostID)
		}
	}
}

func TestRankSnapshot_WarmLimitStillScoresEverything(t *testing.T) {
	repo := post.NewInMemoryRepository()
	snapshots := snapshot.NewInMemoryStore()
	cache := engagement.NewCache(repo, engagement.Config{
		Now: func() time.Time { return serviceTestNow },
	})
	svc := NewService(repo, cache, snapshots, nil, nil, ServiceConfig{
		CacheWarmLimit: 2, // smaller than the candidate set
		Now:            func() time.Time { return serviceTestNow },
	})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		p := &post.Post{
			ID:         string(rune('a' + i)),
			AuthorID:   "author",
			Visibility: post.VisibilityPublic,
			CreatedAt:  serviceTestNow.Add(-time.Hour),
			BoostCount: i,
		}
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("failed to create post: %v", err)
		}
	}

	rows, err := svc.RankSnapshot(ctx, serviceTestNow, 0)
	if err != nil {
		t.Fatalf("RankSnapshot failed: %v", err)
	}
	// Unwarmed candidates score off a cold cache (as zero), but every
	// candidate still gets a row.
	if len(rows) != 6 {
		t.Errorf("got %d rows, want all 6 candidates", len(rows))
	}
}

// Replies the batch selected via the engaged-reply bucket must survive the
// read path: the serving scope narrows visibility only, never structure.
func TestRankSnapshotMode_ServesReplyRows(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	asOf := serviceTestNow.Add(-10 * time.Minute)
	parent := "parent"
	rows := []snapshot.Row{
		{
			AsOf:       asOf,
			PostID:     "top",
			CreatedAt:  asOf.Add(-time.Hour),
			Score:      10,
			AuthorID:   "author",
			Visibility: post.VisibilityPublic,
		},
		{
			AsOf:       asOf,
			PostID:     "reply",
			CreatedAt:  asOf.Add(-2 * time.Hour),
			Score:      4,
			AuthorID:   "author",
			Visibility: post.VisibilityPublic,
			InReplyTo:  &parent,
			RootID:     &parent,
		},
	}
	if err := f.snapshots.ReplaceGeneration(ctx, asOf, rows, asOf.Add(-time.Hour)); err != nil {
		t.Fatalf("failed to seed generation: %v", err)
	}

	page, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceSnapshot, Limit: 10})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("got %d items, want both generation rows", len(page.Items))
	}
	if page.Items[1].PostID != "reply" {
		t.Errorf("second item = %s, want the reply row", page.Items[1].PostID)
	}
}

// On an instance whose only engaged content is a reply under a deleted
// parent, the batch still produces rows and the trending read still serves
// them.
func TestRankSnapshot_ReplyOnlyInstanceStillServes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	parent := &post.Post{
		ID:         "parent",
		AuthorID:   "author-parent",
		Visibility: post.VisibilityPublic,
		CreatedAt:  serviceTestNow.Add(-48 * time.Hour),
	}
	if err := f.repo.Create(ctx, parent); err != nil {
		t.Fatalf("failed to create parent: %v", err)
	}
	if err := f.repo.SoftDelete(ctx, parent.ID); err != nil {
		t.Fatalf("failed to delete parent: %v", err)
	}

	reply := &post.Post{
		ID:         "reply",
		AuthorID:   "author-reply",
		Visibility: post.VisibilityPublic,
		CreatedAt:  serviceTestNow.Add(-2 * time.Hour),
		InReplyTo:  &parent.ID,
		RootID:     &parent.ID,
	}
	if err := f.repo.Create(ctx, reply); err != nil {
		t.Fatalf("failed to create reply: %v", err)
	}
	if err := f.repo.AddBoost(ctx, &post.Boost{PostID: reply.ID, ActorID: "booster", CreatedAt: serviceTestNow.Add(-time.Hour)}); err != nil {
		t.Fatalf("failed to boost reply: %v", err)
	}

	rows, err := f.service.RankSnapshot(ctx, serviceTestNow, 0)
	if err != nil {
		t.Fatalf("RankSnapshot failed: %v", err)
	}
	if len(rows) != 1 || rows[0].PostID != "reply" {
		t.Fatalf("generation rows = %+v, want just the engaged reply", rows)
	}
	if err := f.snapshots.ReplaceGeneration(ctx, serviceTestNow, rows, serviceTestNow.Add(-time.Hour)); err != nil {
		t.Fatalf("failed to commit generation: %v", err)
	}

	page, err := f.service.Rank(ctx, Request{Scope: publicScope(), Source: SourceSnapshot, Limit: 10})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].PostID != "reply" {
		t.Fatalf("trending page = %+v, want the snapshotted reply", page.Items)
	}
}

// The warm budget must go to stale candidates. A fresh high-boost entry
// burning the budget would leave a stale competitor serving its outdated
// score forever.
func TestRankSnapshot_WarmBudgetGoesToStaleCandidates(t *testing.T) {
	repo := post.NewInMemoryRepository()
	snapshots := snapshot.NewInMemoryStore()
	cache := engagement.NewCache(repo, engagement.Config{
		Now: func() time.Time { return serviceTestNow },
	})
	svc := NewService(repo, cache, snapshots, nil, nil, ServiceConfig{
		CacheWarmLimit: 1,
		Now:            func() time.Time { return serviceTestNow },
	})
	ctx := context.Background()

	fresh := &post.Post{
		ID:         "fresh",
		AuthorID:   "author-fresh",
		Visibility: post.VisibilityPublic,
		CreatedAt:  serviceTestNow.Add(-time.Hour),
		BoostCount: 10,
	}
	stale := &post.Post{
		ID:         "stale",
		AuthorID:   "author-stale",
		Visibility: post.VisibilityPublic,
		CreatedAt:  serviceTestNow.Add(-time.Hour),
		BoostCount: 1,
	}
	for _, p := range []*post.Post{fresh, stale} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("failed to create post %s: %v", p.ID, err)
		}
	}
	if err := repo.UpdateScoreCache(ctx, map[string]float64{fresh.ID: 50}, serviceTestNow); err != nil {
		t.Fatalf("failed to seed fresh cache: %v", err)
	}
	// An hours-old entry whose score no longer reflects any engagement.
	if err := repo.UpdateScoreCache(ctx, map[string]float64{stale.ID: 50}, serviceTestNow.Add(-time.Hour)); err != nil {
		t.Fatalf("failed to seed stale cache: %v", err)
	}

	rows, err := svc.RankSnapshot(ctx, serviceTestNow, 0)
	if err != nil {
		t.Fatalf("RankSnapshot failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].PostID != fresh.ID {
		t.Errorf("top row = %s, want the fresh high-boost post", rows[0].PostID)
	}
	// The stale candidate has no boost events, so a warm recompute lands on
	// zero. Serving the outdated 50 means the budget went to the wrong post.
	if rows[1].PostID != stale.ID || rows[1].Score != 0 {
		t.Errorf("stale row = %+v, want %s recomputed to score 0", rows[1], stale.ID)
	}
}

type recordingJobMetrics struct {
	jobs      map[string]int
	durations map[string]int
	errors    map[string]int
}

func newRecordingJobMetrics() *recordingJobMetrics {
	return &recordingJobMetrics{
		jobs:      map[string]int{},
		durations: map[string]int{},
		errors:    map[string]int{},
	}
}

func (m *recordingJobMetrics) IncJobsTotal(jobType, status string) {
	m.jobs[jobType+"/"+status]++
}

func (m *recordingJobMetrics) ObserveJobDuration(jobType string, _ float64) {
	m.durations[jobType]++
}

func (m *recordingJobMetrics) IncJobErrors(jobType, errorType string) {
	m.errors[jobType+"/"+errorType]++
}

// The bounded warm pass reports to the job registry; per-request live
// scoring does not.
func TestRankSnapshot_WarmPassReportsJobMetrics(t *testing.T) {
	repo := post.NewInMemoryRepository()
	snapshots := snapshot.NewInMemoryStore()
	cache := engagement.NewCache(repo, engagement.Config{
		Now: func() time.Time { return serviceTestNow },
	})
	metrics := newRecordingJobMetrics()
	svc := NewService(repo, cache, snapshots, nil, nil, ServiceConfig{
		CacheWarmLimit: 2,
		JobMetrics:     metrics,
		Now:            func() time.Time { return serviceTestNow },
	})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		p := &post.Post{
			ID:         string(rune('a' + i)),
			AuthorID:   "author",
			Visibility: post.VisibilityPublic,
			CreatedAt:  serviceTestNow.Add(-time.Hour),
			BoostCount: i,
		}
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("failed to create post: %v", err)
		}
	}

	if _, err := svc.RankSnapshot(ctx, serviceTestNow, 0); err != nil {
		t.Fatalf("RankSnapshot failed: %v", err)
	}
	if got := metrics.jobs["cache_warm/success"]; got != 1 {
		t.Errorf("cache_warm success count = %d, want 1", got)
	}
	if got := metrics.durations["cache_warm"]; got != 1 {
		t.Errorf("cache_warm duration observations = %d, want 1", got)
	}
	if len(metrics.errors) != 0 {
		t.Errorf("unexpected job errors: %v", metrics.errors)
	}

	// A live read refreshes per request and must not masquerade as the
	// background warm job.
	if _, err := svc.Rank(ctx, Request{Scope: publicScope(), Source: SourceLive}); err != nil {
		t.Fatalf("live rank failed: %v", err)
	}
	if got := metrics.jobs["cache_warm/success"]; got != 1 {
		t.Errorf("cache_warm success count after live read = %d, want still 1", got)
	}
}
