// Package rules classifies transcript fragments against sensitive-disclosure patterns.
package rules

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/callshield/internal/domain"
)

// Matcher is an immutable, compiled pattern set.
// It holds no mutable state and is safe to share between sessions.
type Matcher struct {
	patterns []*compiledPattern
}

type compiledPattern struct {
	config   domain.SensitivePattern
	keywords []string // lowercased, blank entries removed
	program  cel.Program
}

// newEnv declares the variables available to pattern conditions.
func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("speaker", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// NewMatcher compiles patterns in the given order. Disabled patterns are skipped.
// Registration order is the order of MatchEvents returned by Match.
func NewMatcher(patterns []*domain.SensitivePattern) (*Matcher, error) {
	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	m := &Matcher{}
	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		if p == nil || !p.Enabled {
			continue
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate pattern id %q", p.ID)
		}
		compiled, err := compilePattern(env, p)
		if err != nil {
			return nil, err
		}
		seen[p.ID] = true
		m.patterns = append(m.patterns, compiled)
	}
	return m, nil
}

// ValidatePattern checks a pattern without adding it to any matcher.
func ValidatePattern(p *domain.SensitivePattern) error {
	env, err := newEnv()
	if err != nil {
		return err
	}
	_, err = compilePattern(env, p)
	return err
}

func compilePattern(env *cel.Env, p *domain.SensitivePattern) (*compiledPattern, error) {
	if p == nil {
		return nil, fmt.Errorf("pattern is required")
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("pattern id is required")
	}
	if !p.Category.Valid() {
		return nil, fmt.Errorf("pattern %s: unknown category %q", p.ID, p.Category)
	}
	if p.Severity < 0 {
		return nil, fmt.Errorf("pattern %s: severity must not be negative", p.ID)
	}

	cp := &compiledPattern{config: *p}
	cp.config.Keywords = append([]string(nil), p.Keywords...)
	for _, kw := range p.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			cp.keywords = append(cp.keywords, kw)
		}
	}
	if len(cp.keywords) == 0 {
		return nil, fmt.Errorf("pattern %s: at least one keyword is required", p.ID)
	}

	if strings.TrimSpace(p.Condition) == "" {
		return cp, nil
	}

	ast, issues := env.Compile(p.Condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition for pattern %s: %w", p.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("pattern %s: condition must return bool, got %s", p.ID, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for pattern %s: %w", p.ID, err)
	}
	cp.program = program
	return cp, nil
}

// Match returns one event per matching pattern, in registration order.
// Matching is a case-insensitive substring scan. Empty text matches nothing.
func (m *Matcher) Match(fragment domain.TranscriptFragment) []domain.MatchEvent {
	if m == nil || strings.TrimSpace(fragment.Text) == "" {
		return nil
	}

	lower := strings.ToLower(fragment.Text)
	var events []domain.MatchEvent
	for _, p := range m.patterns {
		keyword, ok := p.firstKeyword(lower)
		if !ok || !p.conditionHolds(fragment) {
			continue
		}
		events = append(events, domain.MatchEvent{
			PatternID: p.config.ID,
			Category:  p.config.Category,
			Keyword:   keyword,
			Severity:  p.config.Severity,
			Fragment:  fragment,
		})
	}
	return events
}

func (p *compiledPattern) firstKeyword(lowerText string) (string, bool) {
	for _, kw := range p.keywords {
		if strings.Contains(lowerText, kw) {
			return kw, true
		}
	}
	return "", false
}

// conditionHolds treats evaluation errors as a non-match.
func (p *compiledPattern) conditionHolds(fragment domain.TranscriptFragment) bool {
	if p.program == nil {
		return true
	}
	out, _, err := p.program.Eval(map[string]any{
		"text":    fragment.Text,
		"speaker": string(fragment.Speaker),
	})
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// Patterns returns copies of the compiled pattern configurations.
func (m *Matcher) Patterns() []domain.SensitivePattern {
	out := make([]domain.SensitivePattern, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.config
		out[i].Keywords = append([]string(nil), p.config.Keywords...)
	}
	return out
}

// Count returns the number of compiled patterns.
func (m *Matcher) Count() int {
	return len(m.patterns)
}
