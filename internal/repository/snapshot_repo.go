package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RateSnapshot is a stored rate table fetched for one base currency.
type RateSnapshot struct {
	ID        string
	Base      string
	Rates     map[string]float64
	FetchedAt time.Time
}

// SnapshotRepository defines DB operations for rate snapshots.
type SnapshotRepository interface {
	Save(ctx context.Context, snap RateSnapshot) (string, error)
	GetLatest(ctx context.Context, base string) (*RateSnapshot, error)
	ListRecent(ctx context.Context, base string, limit int) ([]RateSnapshot, error)
}

// PostgresSnapshotRepository is an implementation of SnapshotRepository using PostgreSQL.
type PostgresSnapshotRepository struct {
	db *sql.DB
}

// NewPostgresSnapshotRepository creates a new PostgresSnapshotRepository.
func NewPostgresSnapshotRepository(db *sql.DB) SnapshotRepository {
	return &PostgresSnapshotRepository{db: db}
}

// Save inserts a snapshot and returns its ID. A new UUID is generated when snap.ID is empty.
// Saving a table with the same base and fetch time again returns the existing ID.
func (r *PostgresSnapshotRepository) Save(ctx context.Context, snap RateSnapshot) (string, error) {
	if len(snap.Rates) == 0 {
		return "", fmt.Errorf("snapshot for %s has no rates", snap.Base)
	}
	id := snap.ID
	if id == "" {
		id = uuid.New().String()
	}
	payload, err := json.Marshal(snap.Rates)
	if err != nil {
		return "", fmt.Errorf("marshal rates: %w", err)
	}

	// A table already stored for the same base and fetch time keeps its row and ID.
	query := `INSERT INTO rate_snapshots (id, base, rates, fetched_at)
              VALUES ($1::uuid, $2, $3::jsonb, $4)
              ON CONFLICT (base, fetched_at)
              DO UPDATE SET base = rate_snapshots.base
              RETURNING id::text`

	var returnedID string
	if err := r.db.QueryRowContext(ctx, query, id, snap.Base, string(payload), snap.FetchedAt.UTC()).Scan(&returnedID); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}
	return returnedID, nil
}

// GetLatest returns the most recently fetched snapshot for base, or (nil, nil) when none exists.
func (r *PostgresSnapshotRepository) GetLatest(ctx context.Context, base string) (*RateSnapshot, error) {
	query := `SELECT id::text, base, rates, fetched_at
              FROM rate_snapshots
              WHERE base=$1
              ORDER BY fetched_at DESC
              LIMIT 1`

	var s RateSnapshot
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, base).Scan(&s.ID, &s.Base, &raw, &s.FetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &s.Rates); err != nil {
		return nil, fmt.Errorf("decode rates of snapshot %s: %w", s.ID, err)
	}
	return &s, nil
}

// ListRecent returns up to limit snapshots for base, newest first.
func (r *PostgresSnapshotRepository) ListRecent(ctx context.Context, base string, limit int) ([]RateSnapshot, error) {
	query := `SELECT id::text, base, rates, fetched_at
              FROM rate_snapshots
              WHERE base=$1
              ORDER BY fetched_at DESC
              LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, base, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort close

	var out []RateSnapshot
	for rows.Next() {
		var s RateSnapshot
		var raw []byte
		if err := rows.Scan(&s.ID, &s.Base, &raw, &s.FetchedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &s.Rates); err != nil {
			return nil, fmt.Errorf("decode rates of snapshot %s: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
