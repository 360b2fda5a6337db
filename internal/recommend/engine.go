// Package recommend turns the terminal call outcomes of a batch into a
// ranked, explainable provider recommendation.
package recommend

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	callsdomain "vetline_backend/internal/calls/domain"
	callsrepo "vetline_backend/internal/calls/repository"
	"vetline_backend/platform/config"
)

const topN = 3

// Entry is one ranked provider.
type Entry struct {
	Rank                 int                      `json:"rank"`
	CandidateID          uuid.UUID                `json:"candidateId"`
	Name                 string                   `json:"name"`
	Score                int                      `json:"score"`
	Reasoning            string                   `json:"reasoning"`
	MatchedCriteria      []string                 `json:"matchedCriteria,omitempty"`
	Availability         callsdomain.Availability `json:"availability"`
	EarliestAvailability string                   `json:"earliestAvailability,omitempty"`
	EstimatedRateCents   int64                    `json:"estimatedRateCents,omitempty"`
}

// Ranked is the engine's output: the top providers plus an overall summary.
// NoQualified distinguishes "nobody qualified" from "not yet computed".
type Ranked struct {
	Entries     []Entry `json:"entries"`
	Summary     string  `json:"summary"`
	NoQualified bool    `json:"noQualified"`
	Reason      string  `json:"reason,omitempty"`
}

// Engine scores terminal call outcomes against a weighted rubric. Scoring is
// pure and deterministic: identical outcomes and weights produce identical
// ranks and scores. Narrative text is layered on afterwards.
type Engine struct {
	weights config.ScoringWeights
}

// NewEngine creates a scoring engine with the configured rubric.
func NewEngine(cfg config.ScoringConfig) *Engine {
	return &Engine{weights: cfg.GetScoringWeights()}
}

// Rank filters and scores the batch's terminal outcomes. Only completed
// conversations that are not disqualified and not unavailable are eligible;
// everything else was either a failed contact or an explicit no.
func (e *Engine) Rank(outcomes []callsrepo.TerminalOutcome) Ranked {
	eligible := make([]callsrepo.TerminalOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if !qualifies(o) {
			continue
		}
		eligible = append(eligible, o)
	}

	if len(eligible) == 0 {
		return Ranked{
			NoQualified: true,
			Reason:      noQualifiedReason(outcomes),
		}
	}

	minRate := minRateCents(eligible)
	entries := make([]Entry, 0, len(eligible))
	for _, o := range eligible {
		entries = append(entries, e.score(o, minRate))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := len(a.MatchedCriteria), len(b.MatchedCriteria); la != lb {
			return la > lb
		}
		if ra, rb := availabilityOrder(a.Availability), availabilityOrder(b.Availability); ra != rb {
			return ra < rb
		}
		return a.Name < b.Name
	})

	if len(entries) > topN {
		entries = entries[:topN]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return Ranked{Entries: entries}
}

func qualifies(o callsrepo.TerminalOutcome) bool {
	if o.Attempt.Status != callsdomain.CallCompleted {
		return false
	}
	s := o.Attempt.Outcome
	if s == nil || s.Disqualified {
		return false
	}
	return s.Availability != callsdomain.Unavailable
}

func (e *Engine) score(o callsrepo.TerminalOutcome, minRate int64) Entry {
	s := o.Attempt.Outcome
	w := e.weights

	total := float64(w.Availability)*availabilityScore(s.Availability) +
		float64(w.Rate)*rateScore(s.EstimatedRateCents, minRate) +
		float64(w.CriteriaMatch)*s.CriteriaMatchRatio() +
		float64(w.CallQuality)*clamp01(s.CallQuality) +
		float64(w.Professionalism)*clamp01(s.Professionalism)

	matched := make([]string, 0, len(s.CriteriaMatch))
	for criterion, ok := range s.CriteriaMatch {
		if ok {
			matched = append(matched, criterion)
		}
	}
	sort.Strings(matched)

	return Entry{
		CandidateID:          o.Candidate.ID,
		Name:                 o.Candidate.Name,
		Score:                int(math.Round(total)),
		Reasoning:            reasoning(o.Candidate.Name, s, matched),
		MatchedCriteria:      matched,
		Availability:         s.Availability,
		EarliestAvailability: s.EarliestAvailability,
		EstimatedRateCents:   s.EstimatedRateCents,
	}
}

func availabilityScore(a callsdomain.Availability) float64 {
	switch a {
	case callsdomain.AvailableNow:
		return 1.0
	case callsdomain.AvailableLater:
		return 0.6
	default:
		return 0.25
	}
}

// availabilityOrder ranks sooner availability first for tie-breaking.
func availabilityOrder(a callsdomain.Availability) int {
	switch a {
	case callsdomain.AvailableNow:
		return 0
	case callsdomain.AvailableLater:
		return 1
	default:
		return 2
	}
}

// rateScore rewards the cheapest quoted rate with a full score and everyone
// else proportionally. Providers that quoted nothing sit at a neutral 0.5 so
// silence is neither rewarded nor punished.
func rateScore(rate, minRate int64) float64 {
	if rate <= 0 || minRate <= 0 {
		return 0.5
	}
	return float64(minRate) / float64(rate)
}

func minRateCents(eligible []callsrepo.TerminalOutcome) int64 {
	var min int64
	for _, o := range eligible {
		rate := o.Attempt.Outcome.EstimatedRateCents
		if rate > 0 && (min == 0 || rate < min) {
			min = rate
		}
	}
	return min
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func reasoning(name string, s *callsdomain.StructuredOutcome, matched []string) string {
	parts := make([]string, 0, 4)

	switch s.Availability {
	case callsdomain.AvailableNow:
		parts = append(parts, "available now")
	case callsdomain.AvailableLater:
		if s.EarliestAvailability != "" {
			parts = append(parts, "available from "+s.EarliestAvailability)
		} else {
			parts = append(parts, "available later")
		}
	default:
		parts = append(parts, "availability unconfirmed")
	}

	if len(s.CriteriaMatch) > 0 {
		parts = append(parts, fmt.Sprintf("matches %d of %d criteria", len(matched), len(s.CriteriaMatch)))
	}
	if s.EstimatedRateCents > 0 {
		parts = append(parts, fmt.Sprintf("quoted ~$%.2f", float64(s.EstimatedRateCents)/100))
	}
	if s.Notes != "" {
		parts = append(parts, s.Notes)
	}

	return name + ": " + strings.Join(parts, "; ")
}

func noQualifiedReason(outcomes []callsrepo.TerminalOutcome) string {
	if len(outcomes) == 0 {
		return "no providers could be reached"
	}

	disqualified, unavailable, unreached := 0, 0, 0
	for _, o := range outcomes {
		switch {
		case o.Attempt.Status != callsdomain.CallCompleted:
			unreached++
		case o.Attempt.Outcome != nil && o.Attempt.Outcome.Disqualified:
			disqualified++
		default:
			unavailable++
		}
	}
	return fmt.Sprintf("no qualified providers: %d unreachable, %d disqualified, %d unavailable",
		unreached, disqualified, unavailable)
}
