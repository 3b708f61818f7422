// Package recordservice is the record store used by the assistant: reads go
// to the SQLite index, writes go to the vault file first and then to the
// index.
package recordservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/recordfile"
	"github.com/starford/tiwaz/internal/recordtype"
	"github.com/starford/tiwaz/internal/store"
	"github.com/starford/tiwaz/internal/textmatch"
	"github.com/starford/tiwaz/internal/vault"
)

// DefaultSuggestThreshold is the score a record name needs to be offered as
// a "did you mean" for a missing id.
const DefaultSuggestThreshold = 80

// Service coordinates the vault and the index.
type Service struct {
	files     vault.Provider
	db        *store.DB
	types     *recordtype.Registry
	publicURL string
	suggestAt int
}

// NewService creates a record service. suggestAt <= 0 uses
// DefaultSuggestThreshold.
func NewService(files vault.Provider, db *store.DB, types *recordtype.Registry, publicURL string, suggestAt int) *Service {
	if suggestAt <= 0 {
		suggestAt = DefaultSuggestThreshold
	}
	return &Service{files: files, db: db, types: types, publicURL: publicURL, suggestAt: suggestAt}
}

// Types returns the record type catalogue.
func (s *Service) Types() *recordtype.Registry { return s.types }

func (s *Service) recordType(name string) (models.RecordType, error) {
	rt, ok := s.types.Lookup(name)
	if !ok {
		return models.RecordType{}, fmt.Errorf("recordservice: unknown record type %q: %w", name, apperr.ErrInvalidInput)
	}
	return rt, nil
}

// Get returns one record or apperr.ErrNotFound.
func (s *Service) Get(ctx context.Context, recordType, id string) (*models.Record, error) {
	rt, err := s.recordType(recordType)
	if err != nil {
		return nil, err
	}
	return s.db.GetRecord(ctx, rt.Name, id)
}

// Exists reports whether the record is indexed.
func (s *Service) Exists(ctx context.Context, recordType, id string) (bool, error) {
	rt, err := s.recordType(recordType)
	if err != nil {
		return false, err
	}
	return s.db.RecordExists(ctx, rt.Name, id)
}

// List returns the records of recordType whose fields equal every filter
// value (case-insensitive). When fields is non-empty only those fields are
// returned.
func (s *Service) List(ctx context.Context, recordType string, filters map[string]string, fields []string) ([]models.Record, error) {
	rt, err := s.recordType(recordType)
	if err != nil {
		return nil, err
	}
	recs, err := s.db.ListRecords(ctx, rt.Name)
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(recs))
	for _, rec := range recs {
		if !matches(rec, filters) {
			continue
		}
		if len(fields) > 0 {
			rec = project(rec, fields)
		}
		out = append(out, rec)
	}
	return out, nil
}

func matches(rec models.Record, filters map[string]string) bool {
	for field, want := range filters {
		if !strings.EqualFold(rec.Value(field), want) {
			return false
		}
	}
	return true
}

func project(rec models.Record, fields []string) models.Record {
	kept := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := rec.Fields[f]; ok {
			kept[f] = v
		}
	}
	rec.Fields = kept
	return rec
}

// Save writes rec to the vault and indexes it. A non-empty ifMatch must
// equal the checksum of the current file, otherwise apperr.ErrConflict is
// returned.
func (s *Service) Save(ctx context.Context, rec models.Record, ifMatch string) (*models.Record, error) {
	rt, err := s.recordType(rec.Type)
	if err != nil {
		return nil, err
	}
	rec.Type = rt.Name
	rec.Name = strings.TrimSpace(rec.Name)
	if rec.Name == "" {
		return nil, fmt.Errorf("recordservice: record name is required: %w", apperr.ErrInvalidInput)
	}
	path := vault.RecordPath(rec.Type, rec.Name)

	if ifMatch != "" {
		existing, err := s.files.Read(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, apperr.ErrNotFound
		case err != nil:
			return nil, err
		case vault.Checksum(existing) != ifMatch:
			return nil, apperr.ErrConflict
		}
	}

	data, err := recordfile.Render(rec)
	if err != nil {
		return nil, err
	}
	if err := s.files.Write(path, data); err != nil {
		return nil, err
	}
	saved, err := recordfile.ToRecord(rec.Type, rec.Name, data)
	if err != nil {
		return nil, err
	}
	saved.Checksum = vault.Checksum(data)
	if err := s.db.UpsertRecord(ctx, saved, path); err != nil {
		return nil, err
	}
	return s.db.GetRecord(ctx, saved.Type, saved.Name)
}

// Delete removes the record file and its index entry.
func (s *Service) Delete(ctx context.Context, recordType, id string) error {
	rt, err := s.recordType(recordType)
	if err != nil {
		return err
	}
	path := vault.RecordPath(rt.Name, id)
	if err := s.files.Delete(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	if _, err := s.db.DeleteRecordByPath(ctx, path); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return nil
}

// FormLink returns the link to the record's form.
func (s *Service) FormLink(recordType, id string) string {
	return models.FormLink(s.publicURL, recordType, id)
}

// Context renders the record as a field listing for the model. A missing
// record yields a system note, with a suggestion when a similarly named
// record exists.
func (s *Service) Context(ctx context.Context, recordType, id string) string {
	rt, err := s.recordType(recordType)
	if err != nil {
		return fmt.Sprintf("(System: Could not retrieve context for %s %s.)\n", recordType, id)
	}
	rec, err := s.db.GetRecord(ctx, rt.Name, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return s.notFound(ctx, rt.Name, id)
	}
	if err != nil {
		slog.WarnContext(ctx, "record context failed",
			slog.String("type", rt.Name),
			slog.String("id", id),
			slog.String("error", err.Error()))
		return fmt.Sprintf("(System: Could not retrieve context for %s %s.)\n", rt.Name, id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Context for %s '%s':\n", rt.Name, rec.Name)
	fmt.Fprintf(&b, "- name: %s\n", rec.Name)
	for _, field := range fieldOrder(rt, *rec) {
		v := rec.Fields[field]
		if list, ok := v.([]any); ok {
			if len(list) > 0 {
				fmt.Fprintf(&b, "- %s: (Contains a list of %d items)\n", field, len(list))
			}
			continue
		}
		if flag, ok := v.(bool); ok && !flag {
			continue
		}
		if text := models.FormatValue(v); text != "" {
			fmt.Fprintf(&b, "- %s: %s\n", field, text)
		}
	}
	fmt.Fprintf(&b, "\nLink: %s", s.FormLink(rt.Name, rec.Name))
	return b.String()
}

// fieldOrder lists the configured fields first, then any extra field in
// name order.
func fieldOrder(rt models.RecordType, rec models.Record) []string {
	seen := make(map[string]bool, len(rec.Fields))
	out := make([]string, 0, len(rec.Fields))
	for _, f := range rt.Fields {
		if _, ok := rec.Fields[f.Name]; ok && !seen[f.Name] {
			seen[f.Name] = true
			out = append(out, f.Name)
		}
	}
	var extra []string
	for k := range rec.Fields {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func (s *Service) notFound(ctx context.Context, recordType, id string) string {
	names, err := s.db.RecordNames(ctx, recordType)
	if err == nil {
		if best, score, ok := textmatch.ExtractOne(id, names); ok && score > s.suggestAt {
			return fmt.Sprintf("(System: Document '%s' of type '%s' not found. Did you mean '%s'?)\n", id, recordType, best)
		}
	}
	return fmt.Sprintf("(System: Document '%s' of type '%s' not found.)\n", id, recordType)
}
