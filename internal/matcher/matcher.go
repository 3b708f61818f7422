// Package matcher ranks internal records against a free-text query using
// weighted multi-field fuzzy similarity.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/ops"
	"github.com/starford/tiwaz/internal/recordtype"
	"github.com/starford/tiwaz/internal/textmatch"
)

// Field weights.
const (
	TitleWeight    = 3.0
	SearchWeight   = 1.5
	BagWeight      = 1.0
	FeedbackWeight = 10.0
)

// Records lists the candidates of one record type.
type Records interface {
	ListRecords(ctx context.Context, recordType string) ([]models.Record, error)
}

// Feedback returns helpful minus not-helpful votes for one record.
type Feedback interface {
	FeedbackTally(ctx context.Context, recordType, name string) (int, error)
}

// Matcher scores records of a type against a query.
type Matcher struct {
	types     *recordtype.Registry
	records   Records
	feedback  Feedback
	sink      ops.Sink
	publicURL string
}

// New creates a matcher. feedback may be nil to disable the vote bias.
func New(types *recordtype.Registry, records Records, feedback Feedback, sink ops.Sink, publicURL string) *Matcher {
	if sink == nil {
		sink = ops.NopSink{}
	}
	return &Matcher{types: types, records: records, feedback: feedback, sink: sink, publicURL: publicURL}
}

type weightedField struct {
	name   string
	weight float64
}

// plan splits a record type's fields into weighted fields and the
// unweighted text bag.
func plan(rt models.RecordType) (weighted []weightedField, bag []string) {
	taken := map[string]bool{"name": true}
	weighted = append(weighted, weightedField{"name", TitleWeight})
	if rt.TitleField != "" && !taken[rt.TitleField] {
		taken[rt.TitleField] = true
		weighted = append(weighted, weightedField{rt.TitleField, TitleWeight})
	}
	for _, f := range rt.SearchFields {
		if taken[f] {
			continue
		}
		taken[f] = true
		weighted = append(weighted, weightedField{f, SearchWeight})
	}
	for _, f := range rt.Fields {
		if taken[f.Name] || !f.Type.TextLike() {
			continue
		}
		bag = append(bag, f.Name)
	}
	return weighted, bag
}

// Search returns up to limit records of recordType ranked by score, highest
// first. Records scoring zero or less are dropped and ties keep listing
// order. A limit of zero or less returns every match. Failures never
// propagate: a broken record is skipped and a type-level failure is
// reported to the sink and yields no matches.
func (m *Matcher) Search(ctx context.Context, recordType, query string, limit int) []models.CandidateMatch {
	rt, ok := m.types.Get(recordType)
	if !ok {
		m.sink.Report(ctx, fmt.Sprintf("search %q: unknown record type %q", query, recordType), "Record search failed")
		return nil
	}
	recs, err := m.records.ListRecords(ctx, recordType)
	if err != nil {
		m.sink.Report(ctx, fmt.Sprintf("search %q in %s: %v", query, recordType, err), "Record search failed")
		return nil
	}

	weighted, bag := plan(rt)
	q := strings.ToLower(query)
	out := make([]models.CandidateMatch, 0, len(recs))
	for _, rec := range recs {
		score, similarity, err := m.score(ctx, rec, q, weighted, bag)
		if err != nil {
			slog.DebugContext(ctx, "record skipped during scoring",
				slog.String("type", recordType),
				slog.String("name", rec.Name),
				slog.String("error", err.Error()))
			continue
		}
		if score <= 0 {
			continue
		}
		out = append(out, m.candidate(rt, rec, score, similarity))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Matcher) score(ctx context.Context, rec models.Record, q string, weighted []weightedField, bag []string) (score, similarity float64, err error) {
	for _, f := range weighted {
		v := rec.Value(f.name)
		if v == "" {
			continue
		}
		s := float64(textmatch.TokenSetRatio(q, strings.ToLower(v)))
		score += s * f.weight
		if s > similarity {
			similarity = s
		}
	}

	parts := make([]string, 0, len(bag))
	for _, f := range bag {
		if v := rec.Value(f); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		score += float64(textmatch.TokenSetRatio(q, strings.ToLower(strings.Join(parts, " ")))) * BagWeight
	}

	if m.feedback != nil {
		tally, err := m.feedback.FeedbackTally(ctx, rec.Type, rec.Name)
		if err != nil {
			return 0, 0, err
		}
		score += float64(tally) * FeedbackWeight
	}
	return score, similarity, nil
}

func (m *Matcher) candidate(rt models.RecordType, rec models.Record, score, similarity float64) models.CandidateMatch {
	label := rec.Name
	if rt.TitleField != "" {
		if title := rec.Value(rt.TitleField); title != "" && title != rec.Name {
			label = title + " (" + rec.Name + ")"
		}
	}
	return models.CandidateMatch{
		Domain:     models.DomainInternal,
		RecordType: rt.Name,
		ID:         rec.Name,
		Label:      label,
		Link:       models.FormLink(m.publicURL, rt.Name, rec.Name),
		Score:      score,
		Similarity: similarity,
	}
}
