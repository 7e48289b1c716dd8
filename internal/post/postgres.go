package post

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL.
// Bucket queries are written against the indexes created by the migrations so
// no ranked read ever scans the full posts table.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new Postgres-backed post repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

const postColumns = `id, author_id, author_tier, visibility, text, in_reply_to, root_id, pinned,
	boost_count, bookmark_count, comment_count, cached_score, cached_score_at, created_at, deleted_at`

// Create inserts a new post with a generated UUID.
func (r *PostgresRepository) Create(ctx context.Context, p *Post) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Visibility == "" {
		p.Visibility = VisibilityPublic
	}

	query := `
		INSERT INTO posts (id, author_id, author_tier, visibility, text, in_reply_to, root_id, pinned,
			boost_count, bookmark_count, comment_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.AuthorID, p.AuthorTier, p.Visibility, p.Text, p.InReplyTo, p.RootID, p.Pinned,
		p.BoostCount, p.BookmarkCount, p.CommentCount, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// GetByID retrieves a post by ID, excluding soft-deleted posts.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1 AND deleted_at IS NULL`
	p, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return p, nil
}

// GetMany retrieves posts by ID, silently skipping missing and deleted posts.
func (r *PostgresRepository) GetMany(ctx context.Context, ids []string) ([]*Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + postColumns + ` FROM posts WHERE id = ANY($1) AND deleted_at IS NULL`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var results []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// SoftDelete marks a post deleted by setting deleted_at.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrPostNotFound
	}
	return nil
}

// RecentPostIDs returns IDs of posts created within the window before asOf.
func (r *PostgresRepository) RecentPostIDs(ctx context.Context, scope Scope, asOf time.Time, window time.Duration, limit int) ([]string, error) {
	where, args := scopeConditions(scope, asOf)
	args = append(args, asOf.Add(-window))
	where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT id FROM posts WHERE %s ORDER BY created_at DESC, id ASC LIMIT $%d`,
		where, len(args))
	return r.queryIDs(ctx, query, args)
}

// TopEngagedPostIDs returns the top posts by one counter within the lookback.
func (r *PostgresRepository) TopEngagedPostIDs(ctx context.Context, scope Scope, asOf time.Time, counter Counter, limit int) ([]string, error) {
	col, err := counterColumn(counter)
	if err != nil {
		return nil, err
	}

	where, args := scopeConditions(scope, asOf)
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT id FROM posts WHERE %s AND %s > 0 ORDER BY %s DESC, id ASC LIMIT $%d`,
		where, col, col, len(args))
	return r.queryIDs(ctx, query, args)
}

// EngagedReplyIDs returns replies with any engagement within the lookback.
// The scope's top-level constraint is lifted for this bucket.
func (r *PostgresRepository) EngagedReplyIDs(ctx context.Context, scope Scope, asOf time.Time, limit int) ([]string, error) {
	replyScope := scope
	replyScope.TopLevelOnly = false

	where, args := scopeConditions(replyScope, asOf)
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT id FROM posts
		WHERE %s AND in_reply_to IS NOT NULL
		AND (boost_count > 0 OR bookmark_count > 0 OR comment_count > 0)
		ORDER BY created_at DESC, id ASC LIMIT $%d`, where, len(args))
	return r.queryIDs(ctx, query, args)
}

// ReplyTimes returns creation times of non-deleted direct replies per post.
func (r *PostgresRepository) ReplyTimes(ctx context.Context, ids []string) (map[string][]time.Time, error) {
	if len(ids) == 0 {
		return map[string][]time.Time{}, nil
	}

	query := `SELECT in_reply_to, created_at FROM posts
		WHERE in_reply_to = ANY($1) AND deleted_at IS NULL`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query reply times: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]time.Time)
	for rows.Next() {
		var parentID string
		var createdAt time.Time
		if err := rows.Scan(&parentID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan reply time: %w", err)
		}
		result[parentID] = append(result[parentID], createdAt)
	}
	return result, rows.Err()
}

// CountDeletedAncestors counts soft-deleted ancestors per post.
func (r *PostgresRepository) CountDeletedAncestors(ctx context.Context, ids []string) (map[string]int, error) {
	if len(ids) == 0 {
		return map[string]int{}, nil
	}

	query := `
		SELECT p.id,
			(CASE WHEN parent.deleted_at IS NOT NULL THEN 1 ELSE 0 END) +
			(CASE WHEN p.root_id IS DISTINCT FROM p.in_reply_to AND root.deleted_at IS NOT NULL THEN 1 ELSE 0 END)
		FROM posts p
		LEFT JOIN posts parent ON parent.id = p.in_reply_to
		LEFT JOIN posts root ON root.id = p.root_id
		WHERE p.id = ANY($1)
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query deleted ancestors: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("failed to scan deleted ancestors: %w", err)
		}
		if count > 0 {
			result[id] = count
		}
	}
	return result, rows.Err()
}

// ScoreCache reads the score-cache pair for the requested posts.
func (r *PostgresRepository) ScoreCache(ctx context.Context, ids []string) (map[string]ScoreCacheEntry, error) {
	if len(ids) == 0 {
		return map[string]ScoreCacheEntry{}, nil
	}

	query := `SELECT id, cached_score, cached_score_at FROM posts
		WHERE id = ANY($1) AND cached_score IS NOT NULL AND cached_score_at IS NOT NULL`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query score cache: %w", err)
	}
	defer rows.Close()

	result := make(map[string]ScoreCacheEntry)
	for rows.Next() {
		var id string
		var entry ScoreCacheEntry
		if err := rows.Scan(&id, &entry.Score, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score cache: %w", err)
		}
		result[id] = entry
	}
	return result, rows.Err()
}

// UpdateScoreCache bulk-writes recomputed scores in a single statement.
func (r *PostgresRepository) UpdateScoreCache(ctx context.Context, scores map[string]float64, at time.Time) error {
	if len(scores) == 0 {
		return nil
	}

	ids := make([]string, 0, len(scores))
	values := make([]float64, 0, len(scores))
	for id, score := range scores {
		ids = append(ids, id)
		values = append(values, score)
	}

	query := `
		UPDATE posts AS p
		SET cached_score = u.score, cached_score_at = $3
		FROM (SELECT unnest($1::uuid[]) AS id, unnest($2::float8[]) AS score) AS u
		WHERE p.id = u.id
	`
	_, err := r.db.ExecContext(ctx, query, pq.Array(ids), pq.Array(values), at)
	if err != nil {
		return fmt.Errorf("failed to update score cache: %w", err)
	}
	return nil
}

// ClearScoreCache nulls both cache columns for a post.
func (r *PostgresRepository) ClearScoreCache(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE posts SET cached_score = NULL, cached_score_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear score cache: %w", err)
	}
	return nil
}

// AddBoost records a boost, increments the counter, and clears the cache in
// one transaction. The counter mutation and cache invalidation commit or roll
// back together, which is what keeps a stale cached score from surviving an
// engagement change.
func (r *PostgresRepository) AddBoost(ctx context.Context, b *Boost) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE posts
			SET boost_count = boost_count + 1, cached_score = NULL, cached_score_at = NULL
			WHERE id = $1 AND deleted_at IS NULL`, b.PostID)
		if err != nil {
			return fmt.Errorf("failed to increment boost count: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check boost count update: %w", err)
		}
		if affected == 0 {
			return ErrPostNotFound
		}

		result, err = tx.ExecContext(ctx, `
			INSERT INTO boosts (post_id, actor_id, actor_tier, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (post_id, actor_id) DO NOTHING`,
			b.PostID, b.ActorID, b.ActorTier, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert boost: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check boost insert: %w", err)
		}
		if affected == 0 {
			return ErrDuplicateBoost
		}
		return nil
	})
}

// RemoveBoost deletes a boost, decrements the counter, and clears the cache
// in one transaction.
func (r *PostgresRepository) RemoveBoost(ctx context.Context, postID, actorID string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM boosts WHERE post_id = $1 AND actor_id = $2`, postID, actorID)
		if err != nil {
			return fmt.Errorf("failed to delete boost: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check boost delete: %w", err)
		}
		if affected == 0 {
			return ErrBoostNotFound
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE posts
			SET boost_count = GREATEST(boost_count - 1, 0), cached_score = NULL, cached_score_at = NULL
			WHERE id = $1`, postID)
		if err != nil {
			return fmt.Errorf("failed to decrement boost count: %w", err)
		}
		return nil
	})
}

// SumDecayedBoosts recomputes decayed boost sums in a single aggregate.
// Ages are clamped non-negative so events with future timestamps contribute a
// factor of exactly 1.0.
func (r *PostgresRepository) SumDecayedBoosts(ctx context.Context, ids []string, asOf time.Time, halfLife time.Duration) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	query := `
		SELECT post_id,
			SUM(LEAST(GREATEST(actor_tier, 1), 3)::float8 *
				POWER(0.5, GREATEST(EXTRACT(EPOCH FROM ($2::timestamptz - created_at)), 0) / $3))
		FROM boosts
		WHERE post_id = ANY($1)
		GROUP BY post_id
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids), asOf, halfLife.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate boosts: %w", err)
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var id string
		var sum float64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan boost sum: %w", err)
		}
		result[id] = sum
	}
	return result, rows.Err()
}

// inTx runs fn inside a transaction, committing on nil and rolling back on error.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction",
				slog.String("error", err.Error()))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryIDs runs a query returning a single id column.
func (r *PostgresRepository) queryIDs(ctx context.Context, query string, args []interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query post ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan post id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scopeConditions renders a Scope as a WHERE fragment plus its arguments.
// Placeholders are numbered from $1; callers append further arguments after.
func scopeConditions(scope Scope, asOf time.Time) (string, []interface{}) {
	where := "deleted_at IS NULL"
	args := []interface{}{asOf}
	where += " AND created_at <= $1"

	if scope.Lookback > 0 {
		args = append(args, asOf.Add(-scope.Lookback))
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if len(scope.Visibilities) > 0 {
		args = append(args, pq.Array(scope.Visibilities))
		where += fmt.Sprintf(" AND visibility = ANY($%d)", len(args))
	}
	if len(scope.AuthorIDs) > 0 {
		args = append(args, pq.Array(scope.AuthorIDs))
		where += fmt.Sprintf(" AND author_id = ANY($%d)", len(args))
	}
	if scope.TopLevelOnly {
		where += " AND in_reply_to IS NULL"
	}

	return where, args
}

// counterColumn maps a Counter to its column name. The switch keeps the
// interpolated identifier closed over a fixed set.
func counterColumn(c Counter) (string, error) {
	switch c {
	case CounterBoosts:
		return "boost_count", nil
	case CounterBookmarks:
		return "bookmark_count", nil
	case CounterComments:
		return "comment_count", nil
	}
	return "", fmt.Errorf("unknown counter: %s", c)
}

// scanner abstracts *sql.Row and *sql.Rows for scanPost.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPost scans one posts row into a Post.
func scanPost(s scanner) (*Post, error) {
	var p Post
	var inReplyTo, rootID sql.NullString
	var cachedScore sql.NullFloat64
	var cachedScoreAt, deletedAt sql.NullTime

	err := s.Scan(&p.ID, &p.AuthorID, &p.AuthorTier, &p.Visibility, &p.Text,
		&inReplyTo, &rootID, &p.Pinned,
		&p.BoostCount, &p.BookmarkCount, &p.CommentCount,
		&cachedScore, &cachedScoreAt, &p.CreatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	if inReplyTo.Valid {
		p.InReplyTo = &inReplyTo.String
	}
	if rootID.Valid {
		p.RootID = &rootID.String
	}
	if cachedScore.Valid && cachedScoreAt.Valid {
		p.CachedScore = &cachedScore.Float64
		p.CachedScoreAt = &cachedScoreAt.Time
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}
	return &p, nil
}
