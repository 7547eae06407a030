package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nornlabs/norn/internal/evaluation"
)

var _ SegmentRepository = (*PostgresSegmentStore)(nil)

// SegmentRepository defines the interface for segment membership persistence.
// Segments are flat user lists; clauses with the SEGMENT operator match
// against these memberships at evaluation time.
type SegmentRepository interface {
	// ReplaceSegmentUsers atomically replaces the full membership of a segment.
	ReplaceSegmentUsers(ctx context.Context, segmentID string, userIDs []string) error

	// ListSegmentUsers returns the membership of a single segment.
	// An unknown segment returns an empty slice, not an error.
	ListSegmentUsers(ctx context.Context, segmentID string) ([]*evaluation.SegmentUser, error)

	// ListAllSegmentUsers returns every membership record grouped by segment ID.
	// The syncer uses this to build snapshots.
	ListAllSegmentUsers(ctx context.Context) (map[string][]*evaluation.SegmentUser, error)

	// DeleteSegment removes a segment and all its memberships.
	// Returns ErrNotFound when the segment has no members.
	DeleteSegment(ctx context.Context, segmentID string) error
}

// PostgresSegmentStore is the implementation of SegmentRepository backed by PostgreSQL.
type PostgresSegmentStore struct {
	db *pgxpool.Pool
}

// NewPostgresSegmentStore creates a new repository instance with the given connection pool.
func NewPostgresSegmentStore(db *pgxpool.Pool) *PostgresSegmentStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresSegmentStore{db: db}
}

// ReplaceSegmentUsers deletes the current membership and bulk-inserts the new
// one inside a single transaction, so readers never observe a half-written
// segment. CopyFrom keeps large uploads fast.
func (s *PostgresSegmentStore) ReplaceSegmentUsers(ctx context.Context, segmentID string, userIDs []string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op after a successful commit.
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM segment_users WHERE segment_id = $1`, segmentID); err != nil {
		return fmt.Errorf("failed to clear segment %q: %w", segmentID, err)
	}

	if len(userIDs) > 0 {
		now := time.Now().Unix()
		rows := make([][]any, 0, len(userIDs))
		seen := make(map[string]struct{}, len(userIDs))
		for _, userID := range userIDs {
			// Dedupe client input so COPY never trips the primary key.
			if _, ok := seen[userID]; ok {
				continue
			}
			seen[userID] = struct{}{}
			rows = append(rows, []any{segmentID, userID, now})
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"segment_users"},
			[]string{"segment_id", "user_id", "created_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to insert segment users: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit segment replacement: %w", err)
	}

	return nil
}

// ListSegmentUsers returns the membership of one segment ordered by user ID.
func (s *PostgresSegmentStore) ListSegmentUsers(ctx context.Context, segmentID string) ([]*evaluation.SegmentUser, error) {
	query := `
		SELECT segment_id, user_id
		FROM segment_users
		WHERE segment_id = $1
		ORDER BY user_id ASC
	`

	rows, err := s.db.Query(ctx, query, segmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segment users: %w", err)
	}
	defer rows.Close()

	users := []*evaluation.SegmentUser{}

	for rows.Next() {
		var u evaluation.SegmentUser
		if err := rows.Scan(&u.SegmentID, &u.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan segment user row: %w", err)
		}
		users = append(users, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return users, nil
}

// ListAllSegmentUsers loads every membership record grouped by segment.
func (s *PostgresSegmentStore) ListAllSegmentUsers(ctx context.Context) (map[string][]*evaluation.SegmentUser, error) {
	query := `
		SELECT segment_id, user_id
		FROM segment_users
		ORDER BY segment_id ASC, user_id ASC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list all segment users: %w", err)
	}
	defer rows.Close()

	segments := make(map[string][]*evaluation.SegmentUser)

	for rows.Next() {
		var u evaluation.SegmentUser
		if err := rows.Scan(&u.SegmentID, &u.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan segment user row: %w", err)
		}
		segments[u.SegmentID] = append(segments[u.SegmentID], &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return segments, nil
}

// DeleteSegment removes all membership rows for a segment.
func (s *PostgresSegmentStore) DeleteSegment(ctx context.Context, segmentID string) error {
	query := `DELETE FROM segment_users WHERE segment_id = $1`

	tag, err := s.db.Exec(ctx, query, segmentID)
	if err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("segment %q: %w", segmentID, ErrNotFound)
	}

	return nil
}
