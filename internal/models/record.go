// Package models defines the domain types for Tiwaz.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FieldType classifies a record field.
type FieldType string

const (
	FieldData       FieldType = "data"
	FieldText       FieldType = "text"
	FieldSmallText  FieldType = "small_text"
	FieldLongText   FieldType = "long_text"
	FieldTextEditor FieldType = "text_editor"
	FieldSelect     FieldType = "select"
	FieldLink       FieldType = "link"
	FieldInt        FieldType = "int"
	FieldFloat      FieldType = "float"
	FieldDate       FieldType = "date"
	FieldCheck      FieldType = "check"
	FieldTable      FieldType = "table"
)

// TextLike reports whether values of this type take part in free-text matching.
func (t FieldType) TextLike() bool {
	switch t {
	case FieldData, FieldText, FieldSmallText, FieldLongText, FieldTextEditor, FieldSelect:
		return true
	}
	return false
}

// Field describes one field of a record type.
type Field struct {
	Name  string    `yaml:"name" json:"name"`
	Type  FieldType `yaml:"type" json:"type"`
	Label string    `yaml:"label,omitempty" json:"label,omitempty"`
}

// RecordType is the metadata of one kind of business record.
type RecordType struct {
	Name         string   `yaml:"name" json:"name"`
	TitleField   string   `yaml:"title_field" json:"title_field,omitempty"`
	SearchFields []string `yaml:"search_fields" json:"search_fields,omitempty"`
	NamingSeries string   `yaml:"naming_series" json:"naming_series,omitempty"`
	Fields       []Field  `yaml:"fields" json:"fields"`
}

// Field returns the named field definition.
func (rt RecordType) Field(name string) (Field, bool) {
	for _, f := range rt.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Slug is the URL form of the type name ("Sales Order" -> "sales-order").
func (rt RecordType) Slug() string {
	return TypeSlug(rt.Name)
}

// TypeSlug lowercases a record type name and joins its words with hyphens.
func TypeSlug(recordType string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(recordType)), " ", "-")
}

// FormLink is the desk URL of one record: <base>/app/<type slug>/<id>.
func FormLink(baseURL, recordType, id string) string {
	return strings.TrimRight(baseURL, "/") + "/app/" + TypeSlug(recordType) + "/" + id
}

// Record is one business record. Name is its unique identifier within Type.
type Record struct {
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Fields    map[string]any `json:"fields"`
	Checksum  string         `json:"checksum,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Value renders a field value as plain text. Missing and nil values are "".
func (r Record) Value(field string) string {
	if field == "name" {
		return r.Name
	}
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return ""
	}
	return FormatValue(v)
}

// FormatValue renders a decoded YAML/JSON value as text.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format("2006-01-02")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, FormatValue(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+FormatValue(t[k]))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// FileMetadata describes one file in the record vault.
type FileMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Feedback is one helpfulness vote on a search result.
type Feedback struct {
	SearchQuery string    `json:"search_query"`
	RecordType  string    `json:"record_type"`
	RecordName  string    `json:"record_name"`
	Helpful     bool      `json:"is_helpful"`
	User        string    `json:"user"`
	CreatedAt   time.Time `json:"created_at"`
}
