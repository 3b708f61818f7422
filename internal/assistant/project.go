package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/generation"
)

// ProjectType is the record type the project analyses read.
const ProjectType = "Project"

// ParseFailure is the Analysis error when the answer is not the requested
// JSON list.
const ParseFailure = "Failed to parse a valid JSON response from the AI."

// ProjectTask is one generated task.
type ProjectTask struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// ProjectRisk is one identified risk.
type ProjectRisk struct {
	Name        string `json:"risk_name"`
	Description string `json:"risk_description"`
}

// Analysis is the parsed answer of a project analysis. When Error is set,
// Raw holds the unparsed answer if there was one.
type Analysis[T any] struct {
	Items []T    `json:"items,omitempty"`
	Error string `json:"error,omitempty"`
	Raw   string `json:"raw,omitempty"`
}

// GenerateText sends prompt as is.
func (s *Service) GenerateText(ctx context.Context, prompt, model string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.User("A prompt is required.", apperr.ErrInvalidInput)
	}
	text, err := s.Generator.Generate(ctx, prompt, generation.Options{Model: s.Generator.Model(model)})
	if err != nil {
		return "", fmt.Errorf("assistant: generate: %w", err)
	}
	return text, nil
}

// ProjectTasks asks for a task list for the project following template.
func (s *Service) ProjectTasks(ctx context.Context, projectID, template string) (*Analysis[ProjectTask], error) {
	return analyze[ProjectTask](ctx, s, projectID, func(project string) string {
		return fmt.Sprintf("Based on the project details and the template '%s', generate a list of tasks.\nProject: %s\n\n"+
			`Return ONLY a valid JSON list of objects with keys "subject" and "description".`, template, project)
	})
}

// ProjectRisks asks for the risks of the project.
func (s *Service) ProjectRisks(ctx context.Context, projectID string) (*Analysis[ProjectRisk], error) {
	return analyze[ProjectRisk](ctx, s, projectID, func(project string) string {
		return "Analyze the project for potential risks (e.g., timeline, budget, scope creep).\nProject: " + project + "\n\n" +
			`Return ONLY a valid JSON list of objects with keys "risk_name" and "risk_description".`
	})
}

func analyze[T any](ctx context.Context, s *Service, projectID string, promptFor func(project string) string) (*Analysis[T], error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, apperr.User("A project id is required.", apperr.ErrInvalidInput)
	}
	rec, err := s.Records.Get(ctx, ProjectType, projectID)
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalidInput) {
		return &Analysis[T]{Error: "Project not found."}, nil
	}
	if err != nil {
		return nil, err
	}

	doc := make(map[string]any, len(rec.Fields)+1)
	for k, v := range rec.Fields {
		doc[k] = v
	}
	doc["name"] = rec.Name
	project, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("assistant: encode project %s: %w", projectID, err)
	}

	answer, err := s.Generator.Generate(ctx, promptFor(string(project)), generation.Options{Model: s.Generator.Model("")})
	if err != nil {
		return nil, fmt.Errorf("assistant: generate: %w", err)
	}
	var items []T
	if err := json.Unmarshal([]byte(stripFences(answer)), &items); err != nil {
		return &Analysis[T]{Error: ParseFailure, Raw: answer}, nil
	}
	return &Analysis[T]{Items: items}, nil
}

// stripFences removes a Markdown code fence around a JSON answer.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
