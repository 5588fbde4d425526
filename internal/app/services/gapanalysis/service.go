// Package gapanalysis rolls assessment data up into the per-category gap
// summary. The summary is a pure view: recomputed on every call, never
// persisted.
package gapanalysis

import (
	"context"
	"sort"
	"time"

	"github.com/relief-ops/fieldsync/internal/app/domain/assessment"
	"github.com/relief-ops/fieldsync/internal/app/domain/gaps"
	"github.com/relief-ops/fieldsync/internal/app/storage"
	"github.com/relief-ops/fieldsync/pkg/logger"
)

// recommendations maps each required field to the action suggested when it
// is missing.
var recommendations = map[string]string{
	"has-emergency-services":   "Deploy an emergency medical team",
	"has-medical-supplies":     "Dispatch medical supply kits",
	"has-qualified-staff":      "Assign qualified health staff",
	"has-registration-records": "Set up a registration desk",
	"has-headcount-verified":   "Run a headcount verification round",
	"has-vulnerable-list":      "Compile the vulnerable-persons list",
	"has-food-stock":           "Schedule a food stock delivery",
	"has-distribution-point":   "Establish a food distribution point",
	"has-infant-nutrition":     "Provide infant and young child feeding support",
	"has-clean-water":          "Install water treatment or trucking",
	"has-latrines":             "Construct emergency latrines",
	"has-hygiene-supplies":     "Distribute hygiene kits",
	"has-adequate-shelter":     "Distribute emergency shelter kits",
	"has-weather-protection":   "Reinforce shelters against weather exposure",
	"has-privacy-partitions":   "Install privacy partitions",
	"has-security-presence":    "Request a security patrol presence",
	"has-lighting":             "Install area lighting",
	"has-safe-spaces":          "Designate protected safe spaces",
}

// Service computes gap summaries over the current assessment set.
type Service struct {
	store storage.DraftStore
	log   *logger.Logger
}

// New constructs a gap-analysis service.
func New(store storage.DraftStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("gap-analysis")
	}
	return &Service{store: store, log: log}
}

// Summary derives the full gap rollup from the current assessments. Every
// category upholds withGaps + withoutGaps == total.
func (s *Service) Summary(ctx context.Context) (gaps.Summary, error) {
	drafts, err := s.store.ListDrafts(ctx)
	if err != nil {
		return gaps.Summary{}, err
	}

	byCategory := make(map[assessment.Type]*gaps.CategorySummary)
	recommended := make(map[assessment.Type]map[string]struct{})

	for _, typ := range assessment.Types() {
		byCategory[typ] = &gaps.CategorySummary{
			Category: typ,
			Severity: make(map[gaps.Severity]int),
		}
		recommended[typ] = make(map[string]struct{})
	}

	for _, draft := range drafts {
		summary, ok := byCategory[draft.Type]
		if !ok {
			continue
		}

		summary.TotalEntities++

		gapCount := draft.GapCount()
		if gapCount == 0 {
			summary.EntitiesWithoutGaps++
			continue
		}

		summary.EntitiesWithGaps++
		summary.GapCount += gapCount

		required := len(assessment.RequiredFields(draft.Type))
		summary.Severity[gaps.Classify(gapCount, required)]++

		for _, field := range draft.MissingFields() {
			rec, ok := recommendations[field]
			if !ok {
				continue
			}
			if _, seen := recommended[draft.Type][rec]; seen {
				continue
			}
			recommended[draft.Type][rec] = struct{}{}
			summary.Recommendations = append(summary.Recommendations, rec)
		}
	}

	result := gaps.Summary{GeneratedAt: time.Now().UTC()}
	for _, typ := range assessment.Types() {
		summary := byCategory[typ]
		sort.Strings(summary.Recommendations)
		result.Categories = append(result.Categories, *summary)
	}
	return result, nil
}
