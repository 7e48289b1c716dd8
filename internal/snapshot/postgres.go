package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL. Generation replacement
// runs delete and insert in one transaction so a failed batch can never leave
// a partial generation behind.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres-backed snapshot store.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// LatestAsOf returns the newest generation's as-of timestamp.
func (s *PostgresStore) LatestAsOf(ctx context.Context) (time.Time, bool, error) {
	var asOf time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT as_of FROM ranking_snapshots ORDER BY as_of DESC LIMIT 1`).Scan(&asOf)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	return asOf, true, nil
}

// HasGeneration reports whether rows for the exact as-of exist.
func (s *PostgresStore) HasGeneration(ctx context.Context, asOf time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ranking_snapshots WHERE as_of = $1)`, asOf).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot generation: %w", err)
	}
	return exists, nil
}

// ReplaceGeneration swaps in a new generation inside one transaction.
func (s *PostgresStore) ReplaceGeneration(ctx context.Context, asOf time.Time, rows []Row, retainAfter time.Time) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("failed to rollback snapshot transaction",
				slog.String("error", err.Error()))
		}
	}()

	// Same-asOf delete makes a crashed batch safely re-runnable; the cutoff
	// delete prunes generations past the scroll grace period.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM ranking_snapshots WHERE as_of = $1 OR as_of < $2`, asOf, retainAfter)
	if err != nil {
		return fmt.Errorf("failed to prune snapshot rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("ranking_snapshots",
		"as_of", "post_id", "post_created_at", "score", "author_id", "visibility", "in_reply_to", "root_id"))
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot copy: %w", err)
	}

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, asOf, row.PostID, row.CreatedAt, row.Score,
			row.AuthorID, row.Visibility, row.InReplyTo, row.RootID); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to buffer snapshot row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush snapshot rows: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot generation: %w", err)
	}
	return nil
}

// Page reads one page from a generation in ranking order. The keyset
// comparison uses a row-value comparison against the
// (as_of, score DESC, post_created_at DESC, post_id DESC) index.
func (s *PostgresStore) Page(ctx context.Context, q PageQuery) ([]Row, error) {
	where := "as_of = $1"
	args := []interface{}{q.AsOf}

	if len(q.Visibilities) > 0 {
		args = append(args, pq.Array(q.Visibilities))
		where += fmt.Sprintf(" AND visibility = ANY($%d)", len(args))
	}
	if q.TopLevelOnly {
		where += " AND in_reply_to IS NULL"
	}
	if q.HasAfter {
		args = append(args, q.AfterScore, q.AfterCreatedAt, q.AfterID)
		where += fmt.Sprintf(" AND (score, post_created_at, post_id) < ($%d, $%d, $%d)",
			len(args)-2, len(args)-1, len(args))
	}

	args = append(args, q.Limit)
	query := fmt.Sprintf(`
		SELECT as_of, post_id, post_created_at, score, author_id, visibility, in_reply_to, root_id
		FROM ranking_snapshots
		WHERE %s
		ORDER BY score DESC, post_created_at DESC, post_id DESC
		LIMIT $%d`, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot page: %w", err)
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var r Row
		var inReplyTo, rootID sql.NullString
		if err := rows.Scan(&r.AsOf, &r.PostID, &r.CreatedAt, &r.Score,
			&r.AuthorID, &r.Visibility, &inReplyTo, &rootID); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if inReplyTo.Valid {
			r.InReplyTo = &inReplyTo.String
		}
		if rootID.Valid {
			r.RootID = &rootID.String
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
