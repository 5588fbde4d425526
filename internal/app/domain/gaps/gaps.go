// Package gaps defines the derived gap-analysis summary. Summaries are
// recomputed from current assessment data on every request and never
// persisted.
package gaps

import (
	"time"

	"github.com/relief-ops/fieldsync/internal/app/domain/assessment"
)

// Severity classifies how badly an assessed entity is missing required
// services.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classify maps a gap count against the number of required fields to a
// severity. Zero gaps classify as low by convention; callers exclude
// gap-free entities from severity tallies.
func Classify(gapCount, required int) Severity {
	if required <= 0 || gapCount <= 0 {
		return SeverityLow
	}
	if gapCount >= required {
		return SeverityCritical
	}
	ratio := float64(gapCount) / float64(required)
	switch {
	case ratio <= 1.0/3.0:
		return SeverityLow
	case ratio <= 2.0/3.0:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// CategorySummary aggregates one assessment category.
type CategorySummary struct {
	Category            assessment.Type  `json:"category"`
	TotalEntities       int              `json:"total_entities"`
	EntitiesWithGaps    int              `json:"entities_with_gaps"`
	EntitiesWithoutGaps int              `json:"entities_without_gaps"`
	GapCount            int              `json:"gap_count"`
	Severity            map[Severity]int `json:"severity"`
	Recommendations     []string         `json:"recommendations,omitempty"`
}

// Summary is the full gap-analysis rollup across categories.
type Summary struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Categories  []CategorySummary `json:"categories"`
}
