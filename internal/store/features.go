// Package store provides the Data Access Layer (Repository) for the Norn application.
// It handles all direct interactions with the PostgreSQL database using the pgx driver.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nornlabs/norn/internal/evaluation"
)

// Compile-time check to verify that PostgresFeatureStore implements FeatureRepository.
// If the interface changes and the struct doesn't, the build fails here.
var _ FeatureRepository = (*PostgresFeatureStore)(nil)

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// FeatureRepository defines the interface for feature flag persistence operations.
// Using an interface allows for dependency injection and easier mocking in tests.
type FeatureRepository interface {
	// CreateFeature inserts a new feature flag. The definition is stored as
	// JSONB; Version is forced to 1 and UpdatedAt is stamped server-side.
	CreateFeature(ctx context.Context, f *evaluation.Feature) error

	// GetFeature retrieves a single feature by ID.
	// Returns ErrNotFound when no such feature exists.
	GetFeature(ctx context.Context, id string) (*evaluation.Feature, error)

	// ListFeatures retrieves a paginated list of features and the total count.
	// It orders results by ID ascending (deterministic).
	ListFeatures(ctx context.Context, limit, offset int) ([]*evaluation.Feature, int64, error)

	// ListAllFeatures retrieves every feature without pagination.
	// The syncer uses this to build snapshots.
	ListAllFeatures(ctx context.Context) ([]*evaluation.Feature, error)

	// UpdateFeature replaces the stored definition of a feature using
	// optimistic concurrency: the write only applies when the stored version
	// still equals expectedVersion. On success the version is bumped and the
	// updated definition is returned. Returns ErrNotFound or ErrVersionConflict.
	UpdateFeature(ctx context.Context, f *evaluation.Feature, expectedVersion int32) (*evaluation.Feature, error)

	// ArchiveFeature marks a feature as archived, bumping its version.
	// Archived features are excluded from evaluation but kept for the
	// client-side pruning window.
	ArchiveFeature(ctx context.Context, id string, expectedVersion int32) (*evaluation.Feature, error)

	// DeleteFeature removes a feature permanently.
	DeleteFeature(ctx context.Context, id string) error
}

// PostgresFeatureStore is the implementation of FeatureRepository backed by PostgreSQL.
type PostgresFeatureStore struct {
	db *pgxpool.Pool
}

// NewPostgresFeatureStore creates a new repository instance with the given connection pool.
func NewPostgresFeatureStore(db *pgxpool.Pool) *PostgresFeatureStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresFeatureStore{db: db}
}

// CreateFeature inserts a new feature into the database.
// The full flag definition lives in a JSONB column; id, version and updated_at
// are mirrored into dedicated columns for lookups and optimistic locking.
func (s *PostgresFeatureStore) CreateFeature(ctx context.Context, f *evaluation.Feature) error {
	f.Version = 1
	f.UpdatedAt = time.Now().Unix()

	query := `
		INSERT INTO features (id, version, archived, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`

	_, err := s.db.Exec(ctx, query,
		f.ID,
		f.Version,
		f.Archived,
		f,
		f.UpdatedAt,
	)

	if err != nil {
		// Handle specific database errors explicitly.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("feature %q: %w", f.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert feature: %w", err)
	}

	return nil
}

// GetFeature retrieves a single feature definition by ID.
func (s *PostgresFeatureStore) GetFeature(ctx context.Context, id string) (*evaluation.Feature, error) {
	query := `SELECT definition FROM features WHERE id = $1`

	var f evaluation.Feature
	if err := s.db.QueryRow(ctx, query, id).Scan(&f); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("feature %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get feature: %w", err)
	}

	return &f, nil
}

// ListFeatures retrieves a subset of features based on pagination parameters.
// It executes two queries: one for the data and one for the total count.
func (s *PostgresFeatureStore) ListFeatures(ctx context.Context, limit, offset int) ([]*evaluation.Feature, int64, error) {
	// 1. Get Total Count (for pagination metadata)
	var total int64
	countQuery := `SELECT count(*) FROM features`

	if err := s.db.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count features: %w", err)
	}

	// If there are no features, return empty immediately to save the second query.
	if total == 0 {
		return []*evaluation.Feature{}, 0, nil
	}

	// 2. Get Data
	query := `
		SELECT definition
		FROM features
		ORDER BY id ASC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list features: %w", err)
	}
	// Ensure rows are closed to prevent connection leaks in the pool.
	defer rows.Close()

	features := make([]*evaluation.Feature, 0, limit)

	for rows.Next() {
		var f evaluation.Feature
		if err := rows.Scan(&f); err != nil {
			return nil, 0, fmt.Errorf("failed to scan feature row: %w", err)
		}
		features = append(features, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return features, total, nil
}

// ListAllFeatures retrieves every feature ordered by ID ascending.
// The syncer needs the complete set, archived flags included, because
// archived IDs still flow into snapshots for client-side pruning.
func (s *PostgresFeatureStore) ListAllFeatures(ctx context.Context) ([]*evaluation.Feature, error) {
	query := `
		SELECT definition
		FROM features
		ORDER BY id ASC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list all features: %w", err)
	}
	defer rows.Close()

	var features []*evaluation.Feature

	for rows.Next() {
		var f evaluation.Feature
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		features = append(features, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return features, nil
}

// UpdateFeature applies a full definition update with optimistic locking.
// The caller supplies the version it last read; a mismatch means someone
// else updated the flag in the meantime.
func (s *PostgresFeatureStore) UpdateFeature(ctx context.Context, f *evaluation.Feature, expectedVersion int32) (*evaluation.Feature, error) {
	f.Version = expectedVersion + 1
	f.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE features
		SET version = $1, archived = $2, definition = $3, updated_at = $4
		WHERE id = $5 AND version = $6
	`

	tag, err := s.db.Exec(ctx, query,
		f.Version,
		f.Archived,
		f,
		f.UpdatedAt,
		f.ID,
		expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update feature: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish "gone" from "stale version" for a precise client error.
		return nil, s.classifyMissingUpdate(ctx, f.ID)
	}

	return f, nil
}

// ArchiveFeature flips the archived marker with the same optimistic
// locking scheme as UpdateFeature.
func (s *PostgresFeatureStore) ArchiveFeature(ctx context.Context, id string, expectedVersion int32) (*evaluation.Feature, error) {
	f, err := s.GetFeature(ctx, id)
	if err != nil {
		return nil, err
	}

	f.Archived = true
	return s.UpdateFeature(ctx, f, expectedVersion)
}

// DeleteFeature removes a feature row permanently.
func (s *PostgresFeatureStore) DeleteFeature(ctx context.Context, id string) error {
	query := `DELETE FROM features WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete feature: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feature %q: %w", id, ErrNotFound)
	}

	return nil
}

// classifyMissingUpdate inspects why an optimistic update matched no rows.
func (s *PostgresFeatureStore) classifyMissingUpdate(ctx context.Context, id string) error {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM features WHERE id = $1)`

	if err := s.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to classify update miss: %w", err)
	}

	if !exists {
		return fmt.Errorf("feature %q: %w", id, ErrNotFound)
	}
	return fmt.Errorf("feature %q: %w", id, ErrVersionConflict)
}
