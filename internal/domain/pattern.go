package domain

import "strings"

// Category classifies the kind of sensitive disclosure a pattern detects.
type Category string

const (
	CategoryBankInfo     Category = "bank_info"
	CategoryPersonalID   Category = "personal_id"
	CategoryScamPressure Category = "scam_pressure"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryBankInfo, CategoryPersonalID, CategoryScamPressure:
		return true
	}
	return false
}

// Title is the headline shown to the user when this category raises an alert.
func (c Category) Title() string {
	switch c {
	case CategoryBankInfo:
		return "BANK ACCOUNT EXPOSURE"
	case CategoryPersonalID:
		return "PRIVATE IDENTITY LEAK"
	case CategoryScamPressure:
		return "SCAM PRESSURE TACTIC"
	}
	return strings.ToUpper(string(c))
}

// SensitivePattern is a static detection rule.
// Patterns are loaded at process start and never mutated afterwards.
type SensitivePattern struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Category Category `json:"category"`
	Severity int      `json:"severity"`

	// Condition is an optional CEL predicate over `text` and `speaker`
	// that must also hold for the pattern to match.
	Condition string `json:"condition,omitempty"`

	Enabled bool `json:"enabled"`
}

// MatchEvent records that a fragment satisfied a pattern.
type MatchEvent struct {
	PatternID string             `json:"patternId"`
	Category  Category           `json:"category"`
	Keyword   string             `json:"keyword"`
	Severity  int                `json:"severity"`
	Fragment  TranscriptFragment `json:"fragment"`
}
