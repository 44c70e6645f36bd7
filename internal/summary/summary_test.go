package summary

import (
	"context"
	"strings"
	"testing"

	"github.com/opensource-finance/callshield/internal/domain"
)

func TestTemplate(t *testing.T) {
	ctx := context.Background()

	t.Run("CleanCall", func(t *testing.T) {
		got, err := Template{}.Summarize(ctx, &domain.SessionReport{
			ThreatLevel: domain.ThreatLow,
			DurationMs:  65_000,
		})
		if err != nil {
			t.Fatalf("Summarize failed: %v", err)
		}
		if !strings.Contains(got, "1m5s") {
			t.Errorf("expected duration in summary, got %q", got)
		}
		if !strings.Contains(got, "No sensitive disclosures") {
			t.Errorf("expected clean call wording, got %q", got)
		}
		if strings.Contains(got, "alert") {
			t.Errorf("expected no alert sentence, got %q", got)
		}
	})

	t.Run("ScamCall", func(t *testing.T) {
		got, err := Template{}.Summarize(ctx, &domain.SessionReport{
			FinalScore:    80,
			ThreatLevel:   domain.ThreatCritical,
			LeaksDetected: []domain.Category{domain.CategoryBankInfo, domain.CategoryPersonalID},
			Alerts:        []domain.Alert{{ID: "a1"}, {ID: "a2"}},
			DurationMs:    7000,
		})
		if err != nil {
			t.Fatalf("Summarize failed: %v", err)
		}
		for _, want := range []string{
			"CRITICAL",
			"80/100",
			"BANK ACCOUNT EXPOSURE, PRIVATE IDENTITY LEAK",
			"2 alerts were raised",
			"Contact your bank",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("expected %q in summary, got %q", want, got)
			}
		}
	})

	t.Run("NilReport", func(t *testing.T) {
		if _, err := (Template{}).Summarize(ctx, nil); err == nil {
			t.Error("expected error for nil report")
		}
	})
}

func TestPrompt(t *testing.T) {
	p := Prompt(&domain.SessionReport{
		FinalScore:    40,
		ThreatLevel:   domain.ThreatMedium,
		LeaksDetected: []domain.Category{domain.CategoryBankInfo},
		Transcript: []domain.TranscriptFragment{
			{Text: "Read me your card number.", Speaker: domain.RoleCaller},
			{Text: "Do not share it.", Speaker: domain.RoleShield},
		},
	})

	for _, want := range []string{
		"Threat level: MEDIUM (score 40/100)",
		"Detected: BANK ACCOUNT EXPOSURE",
		"caller: Read me your card number.",
		"shield: Do not share it.",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("expected %q in prompt, got:\n%s", want, p)
		}
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, domain.SummaryConfig{Provider: "template"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := s.(Template); !ok {
		t.Errorf("expected Template, got %T", s)
	}

	if _, err := New(ctx, domain.SummaryConfig{Provider: "gemini"}); err == nil {
		t.Error("expected error for gemini without API key")
	}
	if _, err := New(ctx, domain.SummaryConfig{Provider: "openai"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
