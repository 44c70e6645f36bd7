package alert

import (
	"testing"
	"time"

	"github.com/opensource-finance/callshield/internal/domain"
)

func TestShouldAlert(t *testing.T) {
	d := NewDebouncer(6 * time.Second)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	bank := domain.MatchEvent{Category: domain.CategoryBankInfo}
	id := domain.MatchEvent{Category: domain.CategoryPersonalID}
	scam := domain.MatchEvent{Category: domain.CategoryScamPressure}

	tests := []struct {
		name string
		ev   domain.MatchEvent
		last time.Time
		now  time.Time
		want bool
	}{
		{"FirstAlert", bank, time.Time{}, base, true},
		{"WithinCooldown", bank, base, base.Add(5 * time.Second), false},
		{"AtCooldownBoundary", bank, base, base.Add(6 * time.Second), true},
		{"AfterCooldown", id, base, base.Add(7 * time.Second), true},
		{"CooldownSharedAcrossCategories", id, base, base.Add(time.Second), false},
		{"UngatedCategory", scam, time.Time{}, base, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.ShouldAlert(tt.ev, tt.last, tt.now); got != tt.want {
				t.Errorf("ShouldAlert = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultCooldown(t *testing.T) {
	d := NewDebouncer(0)
	if d.Cooldown != DefaultCooldown {
		t.Errorf("expected default cooldown %v, got %v", DefaultCooldown, d.Cooldown)
	}
	if !d.gated[domain.CategoryBankInfo] || !d.gated[domain.CategoryPersonalID] || d.gated[domain.CategoryScamPressure] {
		t.Error("unexpected gated categories")
	}
}

func TestBuild(t *testing.T) {
	now := time.Now()
	ev := domain.MatchEvent{
		PatternID: "bank-info",
		Category:  domain.CategoryBankInfo,
		Keyword:   "cvv",
		Fragment:  domain.TranscriptFragment{Text: "what's the CVV", Speaker: domain.RoleCaller},
	}

	a := Build(ev, "tenant-001", "session-001", now)
	if a.ID == "" {
		t.Error("expected alert ID")
	}
	if a.Title != "BANK ACCOUNT EXPOSURE" {
		t.Errorf("unexpected title %q", a.Title)
	}
	if a.Message != bankMessage {
		t.Errorf("unexpected message %q", a.Message)
	}
	if a.SessionID != "session-001" || a.TenantID != "tenant-001" || !a.RaisedAt.Equal(now) {
		t.Errorf("unexpected alert %+v", a)
	}

	ev.Category = domain.CategoryPersonalID
	id := Build(ev, "t", "s", now)
	if id.Title != "PRIVATE IDENTITY LEAK" {
		t.Errorf("unexpected identity title %q", id.Title)
	}
	if id.Message != identityMessage {
		t.Errorf("unexpected identity message %q", id.Message)
	}
}
