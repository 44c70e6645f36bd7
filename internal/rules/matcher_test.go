package rules

import (
	"testing"
	"time"

	"github.com/opensource-finance/callshield/internal/domain"
)

func caller(text string) domain.TranscriptFragment {
	return domain.TranscriptFragment{Text: text, Speaker: domain.RoleCaller, Timestamp: time.Now()}
}

func TestBuiltinMatcher(t *testing.T) {
	m, err := NewMatcher(BuiltinPatterns())
	if err != nil {
		t.Fatalf("failed to build matcher: %v", err)
	}
	if m.Count() != 3 {
		t.Fatalf("expected 3 patterns, got %d", m.Count())
	}

	t.Run("BankInfo", func(t *testing.T) {
		events := m.Match(caller("Please read me your account number"))
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if events[0].Category != domain.CategoryBankInfo {
			t.Errorf("expected bank_info, got %s", events[0].Category)
		}
		if events[0].Keyword != "account number" {
			t.Errorf("expected keyword 'account number', got %q", events[0].Keyword)
		}
		if events[0].Severity != 40 {
			t.Errorf("expected severity 40, got %d", events[0].Severity)
		}
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		events := m.Match(caller("WHAT IS YOUR SOCIAL SECURITY NUMBER"))
		if len(events) != 1 || events[0].Category != domain.CategoryPersonalID {
			t.Fatalf("expected one personal_id event, got %+v", events)
		}
	})

	t.Run("RegistrationOrder", func(t *testing.T) {
		events := m.Match(caller("Act now and give me your SSN and your CVV"))
		if len(events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(events))
		}
		want := []domain.Category{domain.CategoryBankInfo, domain.CategoryPersonalID, domain.CategoryScamPressure}
		for i, c := range want {
			if events[i].Category != c {
				t.Errorf("event %d: expected %s, got %s", i, c, events[i].Category)
			}
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		if events := m.Match(caller("Hi, how is the weather today?")); len(events) != 0 {
			t.Errorf("expected no events, got %d", len(events))
		}
	})

	t.Run("EmptyText", func(t *testing.T) {
		if events := m.Match(caller("")); events != nil {
			t.Errorf("expected nil events for empty text, got %v", events)
		}
		if events := m.Match(caller("   \n\t")); events != nil {
			t.Errorf("expected nil events for blank text, got %v", events)
		}
	})

	t.Run("FragmentCarried", func(t *testing.T) {
		f := caller("my bank details are on file")
		events := m.Match(f)
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if events[0].Fragment.Text != f.Text {
			t.Errorf("expected fragment text to be carried")
		}
	})
}

func TestMatcherCondition(t *testing.T) {
	patterns := []*domain.SensitivePattern{
		{
			ID:        "caller-pin",
			Category:  domain.CategoryBankInfo,
			Severity:  40,
			Keywords:  []string{"pin"},
			Condition: `speaker == "caller"`,
			Enabled:   true,
		},
	}
	m, err := NewMatcher(patterns)
	if err != nil {
		t.Fatalf("failed to build matcher: %v", err)
	}

	if events := m.Match(caller("what is your pin")); len(events) != 1 {
		t.Errorf("expected caller fragment to match, got %d events", len(events))
	}

	shield := domain.TranscriptFragment{Text: "never share your pin", Speaker: domain.RoleShield}
	if events := m.Match(shield); len(events) != 0 {
		t.Errorf("expected shield fragment to be filtered by condition, got %d events", len(events))
	}
}

func TestNewMatcherValidation(t *testing.T) {
	tests := []struct {
		name    string
		pattern *domain.SensitivePattern
	}{
		{"MissingID", &domain.SensitivePattern{Category: domain.CategoryBankInfo, Keywords: []string{"x"}, Enabled: true}},
		{"UnknownCategory", &domain.SensitivePattern{ID: "p", Category: "weather", Keywords: []string{"x"}, Enabled: true}},
		{"NoKeywords", &domain.SensitivePattern{ID: "p", Category: domain.CategoryBankInfo, Keywords: []string{" "}, Enabled: true}},
		{"NegativeSeverity", &domain.SensitivePattern{ID: "p", Category: domain.CategoryBankInfo, Keywords: []string{"x"}, Severity: -1, Enabled: true}},
		{"BadCondition", &domain.SensitivePattern{ID: "p", Category: domain.CategoryBankInfo, Keywords: []string{"x"}, Condition: "this is not CEL !!!", Enabled: true}},
		{"NonBoolCondition", &domain.SensitivePattern{ID: "p", Category: domain.CategoryBankInfo, Keywords: []string{"x"}, Condition: "size(text)", Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMatcher([]*domain.SensitivePattern{tt.pattern}); err == nil {
				t.Error("expected error")
			}
			if err := ValidatePattern(tt.pattern); err == nil {
				t.Error("expected ValidatePattern error")
			}
		})
	}

	t.Run("DuplicateID", func(t *testing.T) {
		p := &domain.SensitivePattern{ID: "dup", Category: domain.CategoryBankInfo, Keywords: []string{"x"}, Enabled: true}
		if _, err := NewMatcher([]*domain.SensitivePattern{p, p}); err == nil {
			t.Error("expected duplicate id error")
		}
	})

	t.Run("DisabledSkipped", func(t *testing.T) {
		p := &domain.SensitivePattern{ID: "off", Category: "bogus", Enabled: false}
		m, err := NewMatcher([]*domain.SensitivePattern{p})
		if err != nil {
			t.Fatalf("disabled pattern should not be validated: %v", err)
		}
		if m.Count() != 0 {
			t.Errorf("expected 0 patterns, got %d", m.Count())
		}
	})
}

func TestPatternsReturnsCopies(t *testing.T) {
	m, _ := NewMatcher(BuiltinPatterns())
	ps := m.Patterns()
	ps[0].Keywords[0] = "changed"

	if m.Patterns()[0].Keywords[0] == "changed" {
		t.Error("Patterns must not expose internal state")
	}
}
