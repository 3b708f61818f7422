package catalog

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/ops"
	"github.com/starford/tiwaz/internal/store"
)

// DefaultSearchLimit caps searchRecords when no limit is given.
const DefaultSearchLimit = 10

type searchRecordsRequest struct {
	RecordType string `json:"record_type"`
	Query      string `json:"query"`
	Limit      int    `json:"limit"`
}

func (r searchRecordsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RecordType, validation.Required),
		validation.Field(&r.Query, validation.Required),
		validation.Field(&r.Limit, validation.Min(0), validation.Max(100)),
	)
}

type recordRequest struct {
	RecordType string `json:"record_type"`
	RecordID   string `json:"record_id"`
}

func (r recordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RecordType, validation.Required),
		validation.Field(&r.RecordID, validation.Required),
	)
}

type listRecordsRequest struct {
	RecordType string            `json:"record_type"`
	Filters    map[string]string `json:"filters"`
	Fields     []string          `json:"fields"`
}

func (r listRecordsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RecordType, validation.Required),
		validation.Field(&r.Fields, validation.Each(validation.Required)),
	)
}

type saveRecordRequest struct {
	RecordType string         `json:"record_type"`
	RecordID   string         `json:"record_id"`
	Fields     map[string]any `json:"fields"`
	IfMatch    string         `json:"if_match"`
}

func (r saveRecordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RecordType, validation.Required),
		validation.Field(&r.RecordID, validation.Required),
		validation.Field(&r.Fields, validation.NotNil),
	)
}

func recordOps(s Services) []ops.Operation {
	recs := s.Records
	return []ops.Operation{
		{
			Name:        "listRecordTypes",
			Domain:      DomainRecords,
			Description: "List the configured record types and their fields.",
			Handler: handle(func(context.Context, noArgs) (any, error) {
				return recs.Types().All(), nil
			}),
		},
		{
			Name:        "searchRecords",
			Domain:      DomainRecords,
			Description: "Fuzzy-search records of one type by their title and search fields.",
			Params: []ops.Param{
				{Name: "record_type", Type: ops.TypeString, Description: "Record type, e.g. Customer", Required: true},
				{Name: "query", Type: ops.TypeString, Description: "Search text", Required: true},
				{Name: "limit", Type: ops.TypeNumber, Description: "Maximum number of matches (default 10)"},
			},
			Handler: handle(func(ctx context.Context, req searchRecordsRequest) (any, error) {
				rt, err := lookupType(recs.Types(), req.RecordType)
				if err != nil {
					return nil, err
				}
				limit := req.Limit
				if limit == 0 {
					limit = DefaultSearchLimit
				}
				out := s.Matcher.Search(ctx, rt.Name, req.Query, limit)
				if out == nil {
					out = []models.CandidateMatch{}
				}
				return out, nil
			}),
		},
		{
			Name:        "getRecordContext",
			Domain:      DomainRecords,
			Description: "Render one record as the text the assistant uses as context.",
			Params: []ops.Param{
				{Name: "record_type", Type: ops.TypeString, Description: "Record type", Required: true},
				{Name: "record_id", Type: ops.TypeString, Description: "Record id", Required: true},
			},
			Handler: handle(func(ctx context.Context, req recordRequest) (any, error) {
				return recs.Context(ctx, req.RecordType, req.RecordID), nil
			}),
		},
		{
			Name:        "listRecords",
			Domain:      DomainRecords,
			Description: "List records of a type, optionally filtered by exact field values and projected to some fields.",
			Params: []ops.Param{
				{Name: "record_type", Type: ops.TypeString, Description: "Record type", Required: true},
				{Name: "filters", Type: ops.TypeObject, Description: "Field name to required value"},
				{Name: "fields", Type: ops.TypeArray, Description: "Fields to return"},
			},
			Handler: handle(func(ctx context.Context, req listRecordsRequest) (any, error) {
				return recs.List(ctx, req.RecordType, req.Filters, req.Fields)
			}),
		},
		{
			Name:        "getRecord",
			Domain:      DomainRecords,
			Description: "Get one record with all its fields.",
			Params: []ops.Param{
				{Name: "record_type", Type: ops.TypeString, Description: "Record type", Required: true},
				{Name: "record_id", Type: ops.TypeString, Description: "Record id", Required: true},
			},
			Handler: handle(func(ctx context.Context, req recordRequest) (any, error) {
				return recs.Get(ctx, req.RecordType, req.RecordID)
			}),
		},
		{
			Name:        "saveRecord",
			Domain:      DomainRecords,
			Description: "Create or replace a record. Pass if_match with the record checksum to refuse overwriting a newer version.",
			Params: []ops.Param{
				{Name: "record_type", Type: ops.TypeString, Description: "Record type", Required: true},
				{Name: "record_id", Type: ops.TypeString, Description: "Record id", Required: true},
				{Name: "fields", Type: ops.TypeObject, Description: "Field values", Required: true},
				{Name: "if_match", Type: ops.TypeString, Description: "Expected checksum of the current version"},
			},
			Handler: handle(func(ctx context.Context, req saveRecordRequest) (any, error) {
				kind := store.EventUpdated
				if ok, err := recs.Exists(ctx, req.RecordType, req.RecordID); err == nil && !ok {
					kind = store.EventCreated
				}
				rec, err := recs.Save(ctx, models.Record{Type: req.RecordType, Name: req.RecordID, Fields: req.Fields}, req.IfMatch)
				if err != nil {
					return nil, err
				}
				s.recordEvent(kind, rec.Type, rec.Name)
				return rec, nil
			}),
		},
		{
			Name:        "deleteRecord",
			Domain:      DomainRecords,
			Description: "Delete a record.",
			Params: []ops.Param{
				{Name: "record_type", Type: ops.TypeString, Description: "Record type", Required: true},
				{Name: "record_id", Type: ops.TypeString, Description: "Record id", Required: true},
			},
			Handler: handle(func(ctx context.Context, req recordRequest) (any, error) {
				if err := recs.Delete(ctx, req.RecordType, req.RecordID); err != nil {
					return nil, err
				}
				rt, _ := recs.Types().Lookup(req.RecordType)
				s.recordEvent(store.EventDeleted, rt.Name, req.RecordID)
				return map[string]string{"status": "deleted"}, nil
			}),
		},
	}
}
