// Package alert decides when a match event deserves a critical alert.
package alert

import (
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/callshield/internal/domain"
)

// DefaultCooldown matches how long a critical alert stays on screen.
const DefaultCooldown = 6 * time.Second

// Debouncer gates alerts by category and enforces a cooldown between them.
// It is stateless: the session owns lastAlertAt and updates it when an alert fires.
type Debouncer struct {
	Cooldown time.Duration
	gated    map[domain.Category]bool
}

// NewDebouncer returns a debouncer for the bank and identity categories.
// A non-positive cooldown selects DefaultCooldown.
func NewDebouncer(cooldown time.Duration) *Debouncer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Debouncer{
		Cooldown: cooldown,
		gated: map[domain.Category]bool{
			domain.CategoryBankInfo:   true,
			domain.CategoryPersonalID: true,
		},
	}
}

// ShouldAlert reports whether ev should fire now. A zero lastAlertAt means
// no alert has fired in this session yet.
func (d *Debouncer) ShouldAlert(ev domain.MatchEvent, lastAlertAt, now time.Time) bool {
	if !d.gated[ev.Category] {
		return false
	}
	if lastAlertAt.IsZero() {
		return true
	}
	return now.Sub(lastAlertAt) >= d.Cooldown
}

// bankMessage is used for bank detail leaks.
const bankMessage = "Immediate threat detected. The caller is accessing sensitive banking data."

// identityMessage is used for personal identity leaks.
const identityMessage = "Immediate threat detected. The caller is asking for your private identity details."

// Build creates the alert for an event that passed ShouldAlert.
func Build(ev domain.MatchEvent, tenantID, sessionID string, now time.Time) domain.Alert {
	msg := bankMessage
	if ev.Category == domain.CategoryPersonalID {
		msg = identityMessage
	}
	return domain.Alert{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		TenantID:  tenantID,
		Category:  ev.Category,
		Title:     ev.Category.Title(),
		Message:   msg,
		PatternID: ev.PatternID,
		Keyword:   ev.Keyword,
		Text:      ev.Fragment.Text,
		RaisedAt:  now,
	}
}
