// Package repository archives session reports and stores pattern
// configuration in SQLite (community) or PostgreSQL (pro).
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/callshield/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database, checks it is reachable and creates
// the schema if needed.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.SQLitePath != ":memory:" && cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s unreachable: %w", cfg.Driver, err)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s schema: %w", cfg.Driver, err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport archives a finished session. Saving the same session again
// replaces the earlier report.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.SessionReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if report == nil || report.SessionID == "" {
		return fmt.Errorf("%w: report requires a session ID", ErrInvalidInput)
	}

	transcript, err := json.Marshal(nonNil(report.Transcript))
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	leaks, err := json.Marshal(nonNil(report.LeaksDetected))
	if err != nil {
		return fmt.Errorf("failed to marshal leaks: %w", err)
	}
	alerts, err := json.Marshal(nonNil(report.Alerts))
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	query := `
		INSERT INTO session_reports (
			session_id, tenant_id, call_id, transcript, final_score, threat_level,
			leaks_detected, alerts, started_at, ended_at, duration_ms, end_reason, summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, session_id) DO UPDATE SET
			call_id = excluded.call_id,
			transcript = excluded.transcript,
			final_score = excluded.final_score,
			threat_level = excluded.threat_level,
			leaks_detected = excluded.leaks_detected,
			alerts = excluded.alerts,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			duration_ms = excluded.duration_ms,
			end_reason = excluded.end_reason,
			summary = excluded.summary
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.SessionID, tenantID, report.CallID,
		string(transcript), report.FinalScore, string(report.ThreatLevel),
		string(leaks), string(alerts),
		report.StartedAt.UTC(), report.EndedAt.UTC(), report.DurationMs,
		string(report.EndReason), report.Summary,
	)
	return err
}

const reportColumns = `
	session_id, tenant_id, call_id, transcript, final_score, threat_level,
	leaks_detected, alerts, started_at, ended_at, duration_ms, end_reason, summary
`

// GetReport retrieves a session report with tenant isolation.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, sessionID string) (*domain.SessionReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + reportColumns + ` FROM session_reports WHERE tenant_id = ? AND session_id = ?`

	report, err := scanReport(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ListReports returns the tenant's most recent reports, newest first.
func (r *SQLRepository) ListReports(ctx context.Context, tenantID string, limit int) ([]*domain.SessionReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + reportColumns + `
		FROM session_reports
		WHERE tenant_id = ?
		ORDER BY ended_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []*domain.SessionReport{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	return reports, rows.Err()
}

// UpdateReportSummary attaches a generated summary to an archived report.
func (r *SQLRepository) UpdateReportSummary(ctx context.Context, tenantID string, sessionID string, summary string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE session_reports SET summary = ? WHERE tenant_id = ? AND session_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), summary, tenantID, sessionID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SavePattern stores a sensitive pattern with tenant isolation.
func (r *SQLRepository) SavePattern(ctx context.Context, tenantID string, pattern *domain.SensitivePattern) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if pattern == nil || pattern.ID == "" {
		return fmt.Errorf("%w: pattern requires an ID", ErrInvalidInput)
	}

	keywords, err := json.Marshal(nonNil(pattern.Keywords))
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}

	enabled := 0
	if pattern.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO sensitive_patterns (
			id, tenant_id, name, category, severity, keywords, cel_condition, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			severity = excluded.severity,
			keywords = excluded.keywords,
			cel_condition = excluded.cel_condition,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		pattern.ID, tenantID, pattern.Name, string(pattern.Category), pattern.Severity,
		string(keywords), pattern.Condition, enabled,
		now, now,
	)
	return err
}

// ListPatterns returns every stored pattern for a tenant in creation order,
// including disabled ones.
func (r *SQLRepository) ListPatterns(ctx context.Context, tenantID string) ([]*domain.SensitivePattern, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, category, severity, keywords, cel_condition, enabled
		FROM sensitive_patterns
		WHERE tenant_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	patterns := []*domain.SensitivePattern{}
	for rows.Next() {
		var p domain.SensitivePattern
		var category, keywords string
		var enabled int

		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &category, &p.Severity,
			&keywords, &p.Condition, &enabled,
		); err != nil {
			return nil, err
		}

		p.Category = domain.Category(category)
		p.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(keywords), &p.Keywords); err != nil {
			return nil, fmt.Errorf("failed to parse keywords for pattern %s: %w", p.ID, err)
		}
		patterns = append(patterns, &p)
	}

	return patterns, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*domain.SessionReport, error) {
	var rep domain.SessionReport
	var callID sql.NullString
	var transcript, leaks, alerts, level, reason string

	if err := row.Scan(
		&rep.SessionID, &rep.TenantID, &callID,
		&transcript, &rep.FinalScore, &level,
		&leaks, &alerts,
		&rep.StartedAt, &rep.EndedAt, &rep.DurationMs,
		&reason, &rep.Summary,
	); err != nil {
		return nil, err
	}

	rep.CallID = callID.String
	rep.ThreatLevel = domain.ThreatLevel(level)
	rep.EndReason = domain.EndReason(reason)

	if err := json.Unmarshal([]byte(transcript), &rep.Transcript); err != nil {
		return nil, fmt.Errorf("failed to parse transcript for %s: %w", rep.SessionID, err)
	}
	if err := json.Unmarshal([]byte(leaks), &rep.LeaksDetected); err != nil {
		return nil, fmt.Errorf("failed to parse leaks for %s: %w", rep.SessionID, err)
	}
	if err := json.Unmarshal([]byte(alerts), &rep.Alerts); err != nil {
		return nil, fmt.Errorf("failed to parse alerts for %s: %w", rep.SessionID, err)
	}

	return &rep, nil
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
