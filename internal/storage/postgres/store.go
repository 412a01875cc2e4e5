// Package postgres persists targets, observations, cycle summaries and SKU
// compliance in Postgres.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/storewatch/internal/id/uuid"
	"github.com/JakeFAU/storewatch/internal/monitor"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements monitor.Store.
type Store struct {
	pool pool
	now  func() time.Time
}

// New connects a pool from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, now: utcNow}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, now func() time.Time) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if now == nil {
		now = utcNow
	}
	return &Store{pool: p, now: now}, nil
}

func utcNow() time.Time { return time.Now().UTC() }

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks the database answers queries.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetOrCreateTarget returns the id for url, inserting the target if needed.
func (s *Store) GetOrCreateTarget(
	ctx context.Context,
	displayName, url string,
	platform monitor.Platform,
) (string, error) {
	const query = `
INSERT INTO targets (id, display_name, url, platform)
VALUES ($1, $2, $3, $4)
ON CONFLICT (url) DO UPDATE SET display_name = EXCLUDED.display_name
RETURNING id`
	var id string
	if err := s.pool.QueryRow(ctx, query, uuid.TargetID(url), displayName, url, string(platform)).Scan(&id); err != nil {
		return "", fmt.Errorf("get or create target: %w", err)
	}
	return id, nil
}

// RecordObservation appends an observation row.
func (s *Store) RecordObservation(
	ctx context.Context,
	targetID string,
	status monitor.Status,
	latencyMs int64,
	evidence string,
) error {
	const query = `
INSERT INTO observations (target_id, status, latency_ms, evidence, observed_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, targetID, string(status), latencyMs, evidence, s.now()); err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// RecordCycleSummary appends a cycle summary row.
func (s *Store) RecordCycleSummary(ctx context.Context, total, onlineCount, offlineCount int) error {
	const query = `
INSERT INTO cycle_summaries (total, online_count, offline_count, recorded_at)
VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, total, onlineCount, offlineCount, s.now()); err != nil {
		return fmt.Errorf("insert cycle summary: %w", err)
	}
	return nil
}

// ListTargetsNeedingReview returns targets whose latest observation is
// BLOCKED, UNKNOWN or ERROR.
func (s *Store) ListTargetsNeedingReview(ctx context.Context) ([]monitor.ReviewCandidate, error) {
	const query = `
SELECT t.id, t.url, t.platform, o.status, o.latency_ms, o.evidence, o.observed_at
FROM targets t
JOIN LATERAL (
	SELECT status, latency_ms, evidence, observed_at
	FROM observations
	WHERE target_id = t.id
	ORDER BY observed_at DESC, id DESC
	LIMIT 1
) o ON TRUE
WHERE o.status = ANY($1)
ORDER BY o.observed_at DESC, t.id`
	rows, err := s.pool.Query(ctx, query, []string{
		string(monitor.StatusBlocked),
		string(monitor.StatusUnknown),
		string(monitor.StatusError),
	})
	if err != nil {
		return nil, fmt.Errorf("query review targets: %w", err)
	}
	defer rows.Close()

	var out []monitor.ReviewCandidate
	for rows.Next() {
		var (
			c        monitor.ReviewCandidate
			platform string
			status   string
		)
		if err := rows.Scan(
			&c.TargetID,
			&c.URL,
			&platform,
			&status,
			&c.LastObservation.LatencyMs,
			&c.LastObservation.Evidence,
			&c.LastObservation.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("scan review target: %w", err)
		}
		c.Platform = monitor.Platform(platform)
		c.LastObservation.TargetID = c.TargetID
		c.LastObservation.Status = monitor.Status(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review targets: %w", err)
	}
	return out, nil
}

// ApplyManualOverride records a reviewer decision as an ordinary observation.
func (s *Store) ApplyManualOverride(ctx context.Context, targetID string, isOnline bool) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM targets WHERE id = $1)`, targetID).
		Scan(&exists); err != nil {
		return fmt.Errorf("lookup target: %w", err)
	}
	if !exists {
		return fmt.Errorf("target %s: %w", targetID, monitor.ErrNotFound)
	}
	status := monitor.StatusOffline
	if isOnline {
		status = monitor.StatusOnline
	}
	return s.RecordObservation(ctx, targetID, status, 0, "manual override")
}

// RecordCompliance upserts the compliance record for a target and day.
func (s *Store) RecordCompliance(ctx context.Context, rec monitor.ComplianceRecord) error {
	const query = `
INSERT INTO compliance_records (
	target_id,
	check_date,
	total_products_checked,
	out_of_stock_sku_codes,
	unmatched_product_names,
	missing_sku_codes,
	compliance_percentage
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (target_id, check_date) DO UPDATE SET
	total_products_checked = EXCLUDED.total_products_checked,
	out_of_stock_sku_codes = EXCLUDED.out_of_stock_sku_codes,
	unmatched_product_names = EXCLUDED.unmatched_product_names,
	missing_sku_codes = EXCLUDED.missing_sku_codes,
	compliance_percentage = EXCLUDED.compliance_percentage`
	if rec.TargetID == "" {
		return errors.New("compliance target id is required")
	}
	if _, err := s.pool.Exec(ctx, query,
		rec.TargetID,
		rec.CheckDate,
		rec.TotalProductsChecked,
		nonNil(rec.OutOfStockSKUCodes),
		nonNil(rec.UnmatchedProducts),
		nonNil(rec.MissingSKUCodes),
		rec.CompliancePercentage,
	); err != nil {
		return fmt.Errorf("upsert compliance: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
