package api

import (
	"github.com/starford/tiwaz/internal/assistant"
)

// ChatRequest is the request body of POST /chat (aliased from the domain layer).
type ChatRequest = assistant.ChatRequest

// ChatResponse is the response of POST /chat (aliased from the domain layer).
type ChatResponse = assistant.ChatResponse

// GenerateRequest is the request body of POST /generate.
type GenerateRequest struct {
	Prompt string `json:"prompt" example:"Write a haiku about invoices" validate:"required"`
	Model  string `json:"model,omitempty" example:"gemini-2.5-flash"`
}

// TextResponse wraps operations that return plain text.
type TextResponse struct {
	Text string `json:"text" validate:"required"`
}

// SaveRecordRequest is the request body of PUT /records/{type}/{id}.
type SaveRecordRequest struct {
	Fields map[string]any `json:"fields" validate:"required"`
}

// ParamInfo documents one operation argument.
type ParamInfo struct {
	Name        string `json:"name" example:"prompt"`
	Type        string `json:"type" example:"string"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// OperationInfo describes one invocable operation.
type OperationInfo struct {
	Name        string      `json:"name" example:"chat"`
	Domain      string      `json:"domain" example:"chat"`
	Description string      `json:"description"`
	Params      []ParamInfo `json:"params"`
}
