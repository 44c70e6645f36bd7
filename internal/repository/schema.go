package repository

// Schema definitions for the CallShield database.
// Compatible with both SQLite and PostgreSQL.

const schemaSessionReports = `
CREATE TABLE IF NOT EXISTS session_reports (
    session_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    call_id TEXT,
    transcript TEXT NOT NULL,
    final_score INTEGER NOT NULL,
    threat_level TEXT NOT NULL,
    leaks_detected TEXT NOT NULL,
    alerts TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP NOT NULL,
    duration_ms BIGINT NOT NULL,
    end_reason TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (tenant_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_session_reports_ended ON session_reports(tenant_id, ended_at);
CREATE INDEX IF NOT EXISTS idx_session_reports_level ON session_reports(tenant_id, threat_level);
`

// Keywords are stored as a JSON array; cel_condition is empty when the
// pattern is keyword-only.
const schemaSensitivePatterns = `
CREATE TABLE IF NOT EXISTS sensitive_patterns (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    category TEXT NOT NULL,
    severity INTEGER NOT NULL,
    keywords TEXT NOT NULL,
    cel_condition TEXT NOT NULL DEFAULT '',
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_sensitive_patterns_tenant ON sensitive_patterns(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSessionReports,
		schemaSensitivePatterns,
	}
}
