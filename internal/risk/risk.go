// Package risk accumulates a per-session threat score from match events.
package risk

import "github.com/opensource-finance/callshield/internal/domain"

// Accumulator tracks the risk score and the set of categories already seen.
// Each category contributes its severity once; repeats add nothing until Reset.
// The score never decreases and is capped at domain.MaxRiskScore.
//
// An Accumulator is owned by a single session and is not safe for concurrent use.
type Accumulator struct {
	score int
	seen  map[domain.Category]bool
	order []domain.Category
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{seen: make(map[domain.Category]bool)}
}

// Apply folds events into the score and returns the new score.
func (a *Accumulator) Apply(events []domain.MatchEvent) int {
	for _, ev := range events {
		if a.seen[ev.Category] {
			continue
		}
		a.seen[ev.Category] = true
		a.order = append(a.order, ev.Category)
		if ev.Severity > 0 {
			a.score = clamp(a.score + ev.Severity)
		}
	}
	return a.score
}

// Reset clears the score and seen set. Only called on session start.
func (a *Accumulator) Reset() {
	a.score = 0
	a.seen = make(map[domain.Category]bool)
	a.order = nil
}

// Score returns the current score.
func (a *Accumulator) Score() int {
	return a.score
}

// Seen returns the categories seen so far in first-seen order.
func (a *Accumulator) Seen() []domain.Category {
	return append([]domain.Category(nil), a.order...)
}

// hasSeen reports whether c has already contributed to the score.
func (a *Accumulator) hasSeen(c domain.Category) bool {
	return a.seen[c]
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > domain.MaxRiskScore {
		return domain.MaxRiskScore
	}
	return score
}

// band maps a lower score bound to a threat level.
// Bands are ordered ascending; a score belongs to the last band whose
// lower bound it reaches.
type band struct {
	lower int
	level domain.ThreatLevel
}

var levelBands = []band{
	{0, domain.ThreatLow},
	{25, domain.ThreatMedium},
	{50, domain.ThreatHigh},
	{80, domain.ThreatCritical},
}

// Level returns the threat level for a score.
func Level(score int) domain.ThreatLevel {
	level := domain.ThreatLow
	for _, b := range levelBands {
		if score >= b.lower {
			level = b.level
		}
	}
	return level
}
