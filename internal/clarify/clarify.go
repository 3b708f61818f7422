// Package clarify decides whether a chat turn can be answered from the
// references it resolved or whether the user has to pick among candidates
// first.
package clarify

import (
	"github.com/starford/tiwaz/internal/models"
)

// State is the outcome of one decision.
type State string

const (
	DirectAnswer       State = "DIRECT_ANSWER"
	NeedsClarification State = "NEEDS_CLARIFICATION"
)

// DefaultThreshold is the number of internal candidates above which the
// user is asked to choose.
const DefaultThreshold = 20

// Input holds the candidates found for one turn. Internal candidates are
// ranked across all record types; External holds each adapter's hits.
type Input struct {
	Internal []models.CandidateMatch
	External map[models.Domain][]models.CandidateMatch
}

// Decision is what the orchestrator acts on. With DirectAnswer, Fetch lists
// the candidates whose full context goes into the prompt. With
// NeedsClarification, Options lists what the user may pick from and Fetch
// lists context that was resolved unambiguously anyway.
type Decision struct {
	State   State
	Options []models.CandidateMatch
	Fetch   []models.CandidateMatch
}

// Engine applies the clarification rules.
type Engine struct {
	threshold int
}

// New creates an engine. threshold <= 0 uses DefaultThreshold.
func New(threshold int) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{threshold: threshold}
}

// Threshold returns the internal candidate limit.
func (e *Engine) Threshold() int { return e.threshold }

// Decide applies the rules to the candidates of one turn:
//
//   - more internal candidates than the threshold: the first threshold of
//     them become options;
//   - a domain with exactly one hit is fetched directly;
//   - a domain with several hits contributes them all as options;
//   - a domain with no hits is ignored.
//
// When any option exists the internal candidates that were within the
// threshold are offered as options too, so a single selection can cover
// everything the prompt referred to.
func (e *Engine) Decide(in Input) Decision {
	var external, fetch []models.CandidateMatch
	for _, d := range models.ExternalDomains {
		hits := in.External[d]
		switch {
		case len(hits) == 1:
			fetch = append(fetch, hits[0])
		case len(hits) > 1:
			external = append(external, hits...)
		}
	}

	internal := in.Internal
	if len(internal) > e.threshold {
		return Decision{
			State:   NeedsClarification,
			Options: append(clip(internal[:e.threshold]), external...),
			Fetch:   fetch,
		}
	}
	if len(external) > 0 {
		return Decision{
			State:   NeedsClarification,
			Options: append(clip(internal), external...),
			Fetch:   fetch,
		}
	}
	return Decision{
		State: DirectAnswer,
		Fetch: append(clip(internal), fetch...),
	}
}

// Resolve turns the options a user selected on a follow-up turn into a
// direct answer, however many there are.
func (e *Engine) Resolve(selected []models.OptionRef) Decision {
	fetch := make([]models.CandidateMatch, 0, len(selected))
	for _, ref := range selected {
		if ref.ID == "" {
			continue
		}
		fetch = append(fetch, models.CandidateMatch{
			Domain:     ref.Domain,
			RecordType: ref.RecordType,
			ID:         ref.ID,
		})
	}
	return Decision{State: DirectAnswer, Fetch: fetch}
}

// clip copies s so appends never write into the caller's array.
func clip(s []models.CandidateMatch) []models.CandidateMatch {
	out := make([]models.CandidateMatch, len(s))
	copy(out, s)
	return out
}
