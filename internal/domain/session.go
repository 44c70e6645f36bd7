package domain

import "time"

// SessionStatus is the lifecycle state of a live call session.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusConnecting SessionStatus = "connecting"
	StatusListening  SessionStatus = "listening"
	StatusStopped    SessionStatus = "stopped"
)

// ThreatLevel is a coarse banding of the risk score.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// MaxRiskScore caps the accumulated session score.
const MaxRiskScore = 100

// EndReason explains why a session stopped.
type EndReason string

const (
	EndUserStop      EndReason = "user_stop"
	EndChannelClosed EndReason = "channel_closed"
	EndChannelError  EndReason = "channel_error"
	EndShutdown      EndReason = "shutdown"
)

// SessionState is a point-in-time snapshot of a session.
// Snapshots are copies; mutating one never affects the live session.
type SessionState struct {
	SessionID   string               `json:"sessionId"`
	TenantID    string               `json:"tenantId"`
	CallID      string               `json:"callId,omitempty"`
	Source      string               `json:"source,omitempty"`
	Status      SessionStatus        `json:"status"`
	Transcript  []TranscriptFragment `json:"transcript"`
	RiskScore   int                  `json:"riskScore"`
	ThreatLevel ThreatLevel          `json:"threatLevel"`
	LeaksSeen   []Category           `json:"leaksSeen"`
	LastAlertAt *time.Time           `json:"lastAlertAt,omitempty"`
	AlertCount  int                  `json:"alertCount"`
	StartedAt   time.Time            `json:"startedAt,omitzero"`
}

// Alert is a critical, user-facing notification about a sensitive disclosure.
type Alert struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	TenantID  string    `json:"tenantId"`
	Category  Category  `json:"category"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	PatternID string    `json:"patternId"`
	Keyword   string    `json:"keyword"`
	Text      string    `json:"text"`
	RaisedAt  time.Time `json:"raisedAt"`
}

// SessionReport is the immutable record produced when a session stops.
type SessionReport struct {
	SessionID     string               `json:"sessionId"`
	TenantID      string               `json:"tenantId"`
	CallID        string               `json:"callId,omitempty"`
	Transcript    []TranscriptFragment `json:"transcript"`
	FinalScore    int                  `json:"finalScore"`
	ThreatLevel   ThreatLevel          `json:"threatLevel"`
	LeaksDetected []Category           `json:"leaksDetected"`
	Alerts        []Alert              `json:"alerts"`
	StartedAt     time.Time            `json:"startedAt"`
	EndedAt       time.Time            `json:"endedAt"`
	DurationMs    int64                `json:"durationMs"`
	EndReason     EndReason            `json:"endReason"`
	Summary       string               `json:"summary,omitempty"`
}
