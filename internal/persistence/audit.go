// Package persistence appends decisions and realized outcomes to Postgres
// for offline audit. The pipeline treats the store as optional: a nil
// *AuditRepo drops writes silently and the core never depends on it.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/models"
)

// AuditRepo writes decision audit rows.
type AuditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and verifies the connection.
func Open(cfg config.PersistenceConfig) (*AuditRepo, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect audit store: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	return &AuditRepo{db: db, timeout: cfg.Timeout}, nil
}

// Close releases the connection pool.
func (r *AuditRepo) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}

// InsertDecision appends one decision with its full reasoning trail.
func (r *AuditRepo) InsertDecision(ctx context.Context, d models.Decision) error {
	if r == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	factorsJSON, err := json.Marshal(d.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}

	query := `
		INSERT INTO decisions (id, ts, instrument, action, confidence, factors, reasoning, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, query,
		d.ID, d.Timestamp, d.Instrument, string(d.Action), d.Confidence,
		factorsJSON, pq.Array(d.Reasoning), d.Summary)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate decision %s: %w", d.ID, err)
		}
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// UpsertOutcome records the horizon results for a tracked decision. Called
// again as later horizons complete; each call overwrites the row with the
// fuller picture.
func (r *AuditRepo) UpsertOutcome(ctx context.Context, t models.TrackedDecision) error {
	if r == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultJSON := func(h *models.HorizonResult) (interface{}, error) {
		if h == nil {
			return nil, nil
		}
		return json.Marshal(h)
	}

	r1, err := resultJSON(t.Result1m)
	if err != nil {
		return fmt.Errorf("failed to marshal 1m result: %w", err)
	}
	r5, err := resultJSON(t.Result5m)
	if err != nil {
		return fmt.Errorf("failed to marshal 5m result: %w", err)
	}
	r15, err := resultJSON(t.Result15m)
	if err != nil {
		return fmt.Errorf("failed to marshal 15m result: %w", err)
	}

	var completedAt sql.NullTime
	if !t.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: t.CompletedAt, Valid: true}
	}

	query := `
		INSERT INTO outcomes (decision_id, price_at_decision, result_1m, result_5m, result_15m, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (decision_id) DO UPDATE SET
			result_1m = EXCLUDED.result_1m,
			result_5m = EXCLUDED.result_5m,
			result_15m = EXCLUDED.result_15m,
			completed_at = EXCLUDED.completed_at`

	_, err = r.db.ExecContext(ctx, query,
		t.Decision.ID, t.PriceAtDecision, r1, r5, r15, completedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert outcome: %w", err)
	}
	return nil
}
