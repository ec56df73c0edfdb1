// Package leadstore provides a plugin that persists lead snapshots to
// PostgreSQL.
//
// Each distinct contact (email + phone) maps to one row; repeated emissions
// for the same contact update the row in place, so the table always holds the
// most recent accumulated snapshot per contact.
//
// Usage:
//
//	store, err := leadstore.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	agent.Use(leadstore.NewPlugin(store))
package leadstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxlead-ai/voxlead/pkg/lead"
)

const ddlLeads = `
CREATE TABLE IF NOT EXISTS leads (
    id          BIGSERIAL    PRIMARY KEY,
    name        TEXT         NOT NULL DEFAULT '',
    email       TEXT         NOT NULL DEFAULT '',
    phone       TEXT         NOT NULL DEFAULT '',
    company     TEXT         NOT NULL DEFAULT '',
    notes       TEXT         NOT NULL DEFAULT '',
    confidence  JSONB        NOT NULL DEFAULT '{}',
    complete    BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_contact
    ON leads (email, phone);

CREATE INDEX IF NOT EXISTS idx_leads_complete ON leads (complete);
CREATE INDEX IF NOT EXISTS idx_leads_updated_at ON leads (updated_at);
`

// Record is one persisted lead row.
type Record struct {
	ID         int64
	Name       string
	Email      string
	Phone      string
	Company    string
	Notes      string
	Confidence map[lead.Field]float64
	Complete   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is a PostgreSQL-backed lead repository. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure the leads table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("leadstore: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("leadstore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("leadstore: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("leadstore: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate ensures the leads table and its indexes exist. All statements are
// idempotent, so Migrate is safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlLeads); err != nil {
		return fmt.Errorf("leads DDL: %w", err)
	}
	return nil
}

// Upsert inserts the snapshot, or updates the existing row for the same
// email + phone contact.
func (s *Store) Upsert(ctx context.Context, info lead.Info) error {
	confidence, err := json.Marshal(info.Confidence)
	if err != nil {
		return fmt.Errorf("leadstore: marshal confidence: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO leads (name, email, phone, company, notes, confidence, complete)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email, phone) DO UPDATE SET
			name       = EXCLUDED.name,
			company    = EXCLUDED.company,
			notes      = EXCLUDED.notes,
			confidence = EXCLUDED.confidence,
			complete   = EXCLUDED.complete,
			updated_at = now()`,
		info.Name, info.Email, info.Phone, info.Company, info.Notes,
		confidence, info.Complete())
	if err != nil {
		return fmt.Errorf("leadstore: upsert: %w", err)
	}
	return nil
}

// Recent returns up to limit leads ordered by most recently updated.
// A limit of 0 or less defaults to 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email, phone, company, notes, confidence, complete,
		       created_at, updated_at
		FROM leads
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("leadstore: query recent: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r          Record
			confidence []byte
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Email, &r.Phone, &r.Company,
			&r.Notes, &confidence, &r.Complete, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("leadstore: scan: %w", err)
		}
		if len(confidence) > 0 {
			if err := json.Unmarshal(confidence, &r.Confidence); err != nil {
				return nil, fmt.Errorf("leadstore: unmarshal confidence: %w", err)
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leadstore: rows: %w", err)
	}
	return records, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
