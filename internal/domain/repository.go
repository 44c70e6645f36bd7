// Package domain defines the core types and interfaces for CallShield.
package domain

import (
	"context"
	"time"
)

// Repository persists session reports and pattern configuration.
// Every call is scoped to a tenant.
type Repository interface {
	SaveReport(ctx context.Context, tenantID string, report *SessionReport) error
	GetReport(ctx context.Context, tenantID string, sessionID string) (*SessionReport, error)
	ListReports(ctx context.Context, tenantID string, limit int) ([]*SessionReport, error)
	UpdateReportSummary(ctx context.Context, tenantID string, sessionID string, summary string) error

	SavePattern(ctx context.Context, tenantID string, pattern *SensitivePattern) error
	ListPatterns(ctx context.Context, tenantID string) ([]*SensitivePattern, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	SQLitePath string

	// PostgresURL, when set, is used as is instead of the fields below.
	PostgresURL string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
