package models

// ReferenceKind distinguishes record mentions from URLs.
type ReferenceKind string

const (
	RefInternalRecord ReferenceKind = "internal-record"
	RefURL            ReferenceKind = "url"
)

// Reference is one mention parsed out of a prompt.
type Reference struct {
	Raw      string        `json:"raw"`
	Kind     ReferenceKind `json:"kind"`
	TypeHint string        `json:"type_hint,omitempty"`
	Offset   int           `json:"offset"`
}

// Domain is the searchable space a candidate came from. Scores are only
// comparable within one domain.
type Domain string

const (
	DomainInternal  Domain = "internal"
	DomainDocuments Domain = "documents"
	DomainMail      Domain = "mail"
	DomainCalendar  Domain = "calendar"
	DomainContacts  Domain = "contacts"
)

// ExternalDomains lists the adapter-backed domains in presentation order.
var ExternalDomains = []Domain{DomainDocuments, DomainMail, DomainCalendar, DomainContacts}

// CandidateMatch is the result of resolving a reference in one domain.
// Similarity is the best single-field similarity (0-100) for internal
// records and is zero elsewhere.
type CandidateMatch struct {
	Domain     Domain  `json:"domain"`
	RecordType string  `json:"record_type,omitempty"`
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Link       string  `json:"link,omitempty"`
	Score      float64 `json:"score"`
	Similarity float64 `json:"-"`
}

// Ref returns the structured reference a user sends back to select c.
func (c CandidateMatch) Ref() OptionRef {
	return OptionRef{Domain: c.Domain, RecordType: c.RecordType, ID: c.ID}
}

// OptionRef identifies a previously presented clarification option.
type OptionRef struct {
	Domain     Domain `json:"domain"`
	RecordType string `json:"record_type,omitempty"`
	ID         string `json:"id"`
}
