// Package history keeps the before/after trail of analyses run during one
// dashboard or CLI session. A Session is passed explicitly to whoever records
// into it; there is no package-level state.
package history

import (
	"sync"

	"github.com/treloxai/riskops/internal/risk"
)

// Entry is one recorded analysis.
type Entry struct {
	Index          int        `json:"index"` // 1-based, in recording order
	ImageID        string     `json:"image_id"`
	Label          string     `json:"label,omitempty"`
	Score          float64    `json:"score"`
	MitigatedScore float64    `json:"mitigated_score"`
	Level          risk.Level `json:"level"`
	MitigatedLevel risk.Level `json:"mitigated_level"`
	EstimatedCost  float64    `json:"estimated_cost"`
	MitigatedCost  float64    `json:"mitigated_cost"`
}

// Summary aggregates a session.
type Summary struct {
	Count              int     `json:"count"`
	MeanScore          float64 `json:"mean_score"`
	MeanMitigatedScore float64 `json:"mean_mitigated_score"`
	MaxScore           float64 `json:"max_score"`
	TotalSaved         float64 `json:"total_saved"`
}

// Session is an append-only history. Safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	entries []Entry
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{}
}

// Record appends a result and returns the stored entry.
func (s *Session) Record(result *risk.RiskResult) Entry {
	return s.RecordLabeled("", result)
}

// RecordLabeled appends a result with a display label, such as the scenario
// that produced it.
func (s *Session) RecordLabeled(label string, result *risk.RiskResult) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{
		Index:          len(s.entries) + 1,
		ImageID:        result.ImageID,
		Label:          label,
		Score:          result.GlobalSeverityScore,
		MitigatedScore: result.MitigatedSeverityScore,
		Level:          result.GlobalSeverityLevel,
		MitigatedLevel: result.MitigatedSeverityLevel,
		EstimatedCost:  result.EstimatedCost,
		MitigatedCost:  result.MitigatedCost,
	}
	s.entries = append(s.entries, e)
	return e
}

// Entries returns a copy of the recorded entries.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Len returns the number of recorded entries.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reset clears the session.
func (s *Session) Reset() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

// Summary aggregates the recorded entries. An empty session yields zeros.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{Count: len(s.entries)}
	if sum.Count == 0 {
		return sum
	}

	var total, mitigated float64
	for _, e := range s.entries {
		total += e.Score
		mitigated += e.MitigatedScore
		if e.Score > sum.MaxScore {
			sum.MaxScore = e.Score
		}
		if e.MitigatedCost < e.EstimatedCost {
			sum.TotalSaved += e.EstimatedCost - e.MitigatedCost
		}
	}
	sum.MeanScore = total / float64(sum.Count)
	sum.MeanMitigatedScore = mitigated / float64(sum.Count)
	return sum
}
