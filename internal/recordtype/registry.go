// Package recordtype holds the configured record type catalogue and the
// lookups built on it: naming-series prefix resolution and record type
// inference from free text.
package recordtype

import (
	"regexp"
	"strings"

	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/textmatch"
)

// Registry is the immutable catalogue of configured record types.
type Registry struct {
	types []models.RecordType
	index map[string]int
}

// NewRegistry builds a registry. Later duplicates of a name are ignored.
func NewRegistry(types []models.RecordType) *Registry {
	r := &Registry{index: make(map[string]int, len(types))}
	for _, t := range types {
		if _, dup := r.index[t.Name]; dup {
			continue
		}
		r.index[t.Name] = len(r.types)
		r.types = append(r.types, t)
	}
	return r
}

// Get returns the named record type.
func (r *Registry) Get(name string) (models.RecordType, bool) {
	i, ok := r.index[name]
	if !ok {
		return models.RecordType{}, false
	}
	return r.types[i], true
}

// Lookup finds a record type by name ignoring case and surrounding space.
func (r *Registry) Lookup(name string) (models.RecordType, bool) {
	if t, ok := r.Get(name); ok {
		return t, true
	}
	name = strings.TrimSpace(name)
	for _, t := range r.types {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return models.RecordType{}, false
}

// All returns the record types in configuration order.
func (r *Registry) All() []models.RecordType {
	out := make([]models.RecordType, len(r.types))
	copy(out, r.types)
	return out
}

// Names returns the record type names in configuration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.types))
	for i, t := range r.types {
		out[i] = t.Name
	}
	return out
}

// keywordTypes maps words users type to the record type they usually mean.
var keywordTypes = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)\bsales orders?\b|\bso\b`), "Sales Order"},
	{regexp.MustCompile(`(?i)\bpurchase orders?\b|\bpo\b`), "Purchase Order"},
	{regexp.MustCompile(`(?i)\bsales invoices?\b|\binvoices?\b|\bsi\b`), "Sales Invoice"},
	{regexp.MustCompile(`(?i)\bpurchase invoices?\b|\bpi\b`), "Purchase Invoice"},
	{regexp.MustCompile(`(?i)\bquotations?\b|\bquotes?\b`), "Quotation"},
	{regexp.MustCompile(`(?i)\bcustomers?\b|\bclients?\b`), "Customer"},
	{regexp.MustCompile(`(?i)\bsuppliers?\b|\bvendors?\b`), "Supplier"},
	{regexp.MustCompile(`(?i)\bprojects?\b`), "Project"},
	{regexp.MustCompile(`(?i)\btasks?\b`), "Task"},
	{regexp.MustCompile(`(?i)\bissues?\b|\btickets?\b`), "Issue"},
	{regexp.MustCompile(`(?i)\bleads?\b`), "Lead"},
	{regexp.MustCompile(`(?i)\bitems?\b|\bproducts?\b`), "Item"},
	{regexp.MustCompile(`(?i)\bemployees?\b`), "Employee"},
}

// InferFromPrompt guesses which record type a prompt is about. Keywords
// are tried first; otherwise the registered type whose name best matches
// the prompt wins if it scores at least threshold (0-100). Only registered
// types are returned.
func (r *Registry) InferFromPrompt(prompt string, threshold int) (string, bool) {
	for _, kw := range keywordTypes {
		if kw.re.MatchString(prompt) {
			if _, ok := r.Get(kw.name); ok {
				return kw.name, true
			}
		}
	}
	best, score, ok := textmatch.ExtractOne(prompt, r.Names())
	if !ok || score < threshold {
		return "", false
	}
	return best, true
}
