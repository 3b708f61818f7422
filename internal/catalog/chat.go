package catalog

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tiwaz/internal/assistant"
	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/ops"
)

type generateTextRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

func (r generateTextRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Prompt, validation.Required),
	)
}

type chatRequest struct {
	assistant.ChatRequest
}

func (r chatRequest) Validate() error {
	if len(r.SelectedOptions) > 0 {
		return validation.ValidateStruct(&r,
			validation.Field(&r.SelectedOptions, validation.Each(validation.By(validOption))),
		)
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Prompt, validation.Required),
	)
}

func validOption(v any) error {
	ref, _ := v.(models.OptionRef)
	return validation.ValidateStruct(&ref,
		validation.Field(&ref.Domain, validation.Required, validation.In(
			models.DomainInternal, models.DomainDocuments, models.DomainMail,
			models.DomainCalendar, models.DomainContacts)),
		validation.Field(&ref.ID, validation.Required),
	)
}

type conversationRequest struct {
	ID string `json:"id"`
}

func (r conversationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
	)
}

type feedbackRequest struct {
	SearchQuery string `json:"search_query"`
	RecordType  string `json:"record_type"`
	RecordID    string `json:"record_id"`
	IsHelpful   bool   `json:"is_helpful"`
}

func (r feedbackRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SearchQuery, validation.Required),
		validation.Field(&r.RecordType, validation.Required),
		validation.Field(&r.RecordID, validation.Required),
	)
}

func chatOps(s Services) []ops.Operation {
	a := s.Assistant
	return []ops.Operation{
		{
			Name:        "generateText",
			Domain:      DomainChat,
			Description: "Generate text for a prompt without context assembly or history.",
			Params: []ops.Param{
				{Name: "prompt", Type: ops.TypeString, Description: "Prompt text", Required: true},
				{Name: "model", Type: ops.TypeString, Description: "Model name (defaults to the configured model)"},
			},
			Handler: handle(func(ctx context.Context, req generateTextRequest) (any, error) {
				return a.GenerateText(ctx, req.Prompt, req.Model)
			}),
		},
		{
			Name:   "chat",
			Domain: DomainChat,
			Description: "Run one chat turn. @mentions and URLs in the prompt are resolved into context. " +
				"When the answer is ambiguous the response lists options; send the chosen ones back as selected_options.",
			Params: []ops.Param{
				{Name: "prompt", Type: ops.TypeString, Description: "User prompt", Required: true},
				{Name: "model", Type: ops.TypeString, Description: "Model name"},
				{Name: "conversation_id", Type: ops.TypeString, Description: "Conversation to continue"},
				{Name: "selected_options", Type: ops.TypeArray, Description: "Options chosen from a clarification response"},
				{Name: "viewing_type", Type: ops.TypeString, Description: "Record type the user has open"},
				{Name: "viewing_id", Type: ops.TypeString, Description: "Record id the user has open"},
			},
			Handler: handle(func(ctx context.Context, req chatRequest) (any, error) {
				return a.Chat(ctx, req.ChatRequest)
			}),
		},
		{
			Name:        "listConversations",
			Domain:      DomainChat,
			Description: "List the current user's conversations, newest first.",
			Handler: handle(func(ctx context.Context, _ noArgs) (any, error) {
				return a.ListConversations(ctx)
			}),
		},
		{
			Name:        "getConversation",
			Domain:      DomainChat,
			Description: "Get one conversation of the current user with its turns.",
			Params: []ops.Param{
				{Name: "id", Type: ops.TypeString, Description: "Conversation id", Required: true},
			},
			Handler: handle(func(ctx context.Context, req conversationRequest) (any, error) {
				return a.GetConversation(ctx, req.ID)
			}),
		},
		{
			Name:        "recordFeedback",
			Domain:      DomainChat,
			Description: "Record whether a search result was helpful for a query.",
			Params: []ops.Param{
				{Name: "search_query", Type: ops.TypeString, Description: "The query that produced the result", Required: true},
				{Name: "record_type", Type: ops.TypeString, Description: "Record type", Required: true},
				{Name: "record_id", Type: ops.TypeString, Description: "Record id", Required: true},
				{Name: "is_helpful", Type: ops.TypeBoolean, Description: "Whether the result helped"},
			},
			Handler: handle(func(ctx context.Context, req feedbackRequest) (any, error) {
				if err := a.RecordFeedback(ctx, req.SearchQuery, req.RecordType, req.RecordID, req.IsHelpful); err != nil {
					return nil, err
				}
				return map[string]string{"status": "recorded"}, nil
			}),
		},
	}
}

type projectTasksRequest struct {
	ProjectID string `json:"project_id"`
	Template  string `json:"template"`
}

func (r projectTasksRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProjectID, validation.Required),
		validation.Field(&r.Template, validation.Required),
	)
}

type projectRequest struct {
	ProjectID string `json:"project_id"`
}

func (r projectRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProjectID, validation.Required),
	)
}

func projectOps(s Services) []ops.Operation {
	a := s.Assistant
	return []ops.Operation{
		{
			Name:        "getProjectTasks",
			Domain:      DomainProject,
			Description: "Generate a task list for a project from a template.",
			Params: []ops.Param{
				{Name: "project_id", Type: ops.TypeString, Description: "Project record id", Required: true},
				{Name: "template", Type: ops.TypeString, Description: "Template name, e.g. Agile", Required: true},
			},
			Handler: handle(func(ctx context.Context, req projectTasksRequest) (any, error) {
				return a.ProjectTasks(ctx, req.ProjectID, req.Template)
			}),
		},
		{
			Name:        "getProjectRisks",
			Domain:      DomainProject,
			Description: "Identify the risks of a project.",
			Params: []ops.Param{
				{Name: "project_id", Type: ops.TypeString, Description: "Project record id", Required: true},
			},
			Handler: handle(func(ctx context.Context, req projectRequest) (any, error) {
				return a.ProjectRisks(ctx, req.ProjectID)
			}),
		},
	}
}
