// Package summary writes the closing summary attached to a session report.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/callshield/internal/domain"
	"google.golang.org/genai"
)

// Summarizer produces a short human-readable account of a finished call.
type Summarizer interface {
	Summarize(ctx context.Context, report *domain.SessionReport) (string, error)
}

// New creates the summarizer selected by cfg.Provider.
func New(ctx context.Context, cfg domain.SummaryConfig) (Summarizer, error) {
	switch cfg.Provider {
	case "", "template":
		return Template{}, nil

	case "gemini":
		g, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return g, nil

	default:
		return nil, fmt.Errorf("unsupported summary provider: %s", cfg.Provider)
	}
}

// Template summarizes a report without any external service.
type Template struct{}

// Summarize describes the final threat level, the disclosures and the alerts.
func (Template) Summarize(ctx context.Context, report *domain.SessionReport) (string, error) {
	if report == nil {
		return "", fmt.Errorf("report is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Call lasted %s and ended with threat level %s (score %d/%d).",
		(time.Duration(report.DurationMs) * time.Millisecond).Round(time.Second),
		report.ThreatLevel, report.FinalScore, domain.MaxRiskScore)

	if len(report.LeaksDetected) == 0 {
		b.WriteString(" No sensitive disclosures were detected.")
	} else {
		titles := make([]string, len(report.LeaksDetected))
		for i, c := range report.LeaksDetected {
			titles[i] = c.Title()
		}
		fmt.Fprintf(&b, " Detected: %s.", strings.Join(titles, ", "))
	}

	switch n := len(report.Alerts); n {
	case 0:
	case 1:
		b.WriteString(" 1 alert was raised.")
	default:
		fmt.Fprintf(&b, " %d alerts were raised.", n)
	}

	if report.ThreatLevel == domain.ThreatHigh || report.ThreatLevel == domain.ThreatCritical {
		b.WriteString(" Contact your bank and freeze any accounts that were mentioned.")
	}
	return b.String(), nil
}

// Gemini summarizes reports with a hosted Gemini model.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini creates a Gemini summarizer.
func NewGemini(ctx context.Context, cfg domain.SummaryConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini summary requires an API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Gemini{client: client, model: model, timeout: timeout}, nil
}

// Summarize asks the model for a two to three sentence security summary.
func (g *Gemini) Summarize(ctx context.Context, report *domain.SessionReport) (string, error) {
	if report == nil {
		return "", fmt.Errorf("report is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(Prompt(report)), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty summary")
	}
	return text, nil
}

// Prompt renders the transcript and findings for a hosted model.
func Prompt(report *domain.SessionReport) string {
	var b strings.Builder
	b.WriteString("You are a fraud analyst. Summarize this phone call in two or three sentences ")
	b.WriteString("for the person who received it. Say whether it looked like a scam and what, ")
	b.WriteString("if anything, they should do next.\n\n")

	fmt.Fprintf(&b, "Threat level: %s (score %d/%d)\n", report.ThreatLevel, report.FinalScore, domain.MaxRiskScore)
	if len(report.LeaksDetected) > 0 {
		titles := make([]string, len(report.LeaksDetected))
		for i, c := range report.LeaksDetected {
			titles[i] = c.Title()
		}
		fmt.Fprintf(&b, "Detected: %s\n", strings.Join(titles, ", "))
	}

	b.WriteString("\nTranscript:\n")
	for _, f := range report.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", f.Speaker, f.Text)
	}
	return b.String()
}
