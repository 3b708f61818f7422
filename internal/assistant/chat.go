package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/clarify"
	"github.com/starford/tiwaz/internal/generation"
	"github.com/starford/tiwaz/internal/identity"
	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/reference"
)

// ClarificationMessage is the reply shown with clarification options.
const ClarificationMessage = "I found several items that could match your request. Please select the ones you mean."

// ChatRequest is one chat turn. ViewingType and ViewingID name the record
// the user has open, if any.
type ChatRequest struct {
	Prompt          string             `json:"prompt"`
	Model           string             `json:"model,omitempty"`
	ConversationID  string             `json:"conversation_id,omitempty"`
	SelectedOptions []models.OptionRef `json:"selected_options,omitempty"`
	ViewingType     string             `json:"viewing_type,omitempty"`
	ViewingID       string             `json:"viewing_id,omitempty"`
}

// ChatResponse is the outcome of a turn.
type ChatResponse struct {
	Response           string                  `json:"response"`
	ConversationID     string                  `json:"conversation_id"`
	ContextUsed        string                  `json:"context_used"`
	NeedsClarification bool                    `json:"clarification_needed"`
	Options            []models.CandidateMatch `json:"options,omitempty"`
}

// Chat runs one turn for the user in ctx.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	user := identity.User(ctx)
	if user == "" {
		return nil, fmt.Errorf("assistant: chat: %w: no current user", apperr.ErrAuthorization)
	}
	prompt := strings.TrimSpace(req.Prompt)
	resuming := len(req.SelectedOptions) > 0
	if prompt == "" && !resuming {
		return nil, apperr.User("A prompt or selected options are required.", apperr.ErrInvalidInput)
	}

	conv, err := s.ownedConversation(ctx, user, req.ConversationID)
	if err != nil {
		return nil, err
	}
	var history []models.Turn
	if conv != nil {
		history = conv.Turns
	}
	if prompt == "" {
		prompt = lastUserTurn(history)
		if prompt == "" {
			return nil, apperr.User("There is no earlier prompt to continue.", apperr.ErrInvalidInput)
		}
	}
	cleaned := reference.Clean(prompt)

	var ctxParts []string
	if req.ViewingType != "" && req.ViewingID != "" && isGenericPrompt(prompt) {
		ctxParts = append(ctxParts, s.Records.Context(ctx, req.ViewingType, req.ViewingID))
	}
	if urls := reference.URLs(prompt); len(urls) > 0 {
		text, err := s.URLs.Fetch(ctx, urls)
		if err != nil {
			return nil, err
		}
		ctxParts = append(ctxParts, text)
	}

	var decision clarify.Decision
	if resuming {
		decision = s.Clarifier.Resolve(req.SelectedOptions)
	} else {
		res := s.resolve(ctx, user, prompt, cleaned)
		ctxParts = append(ctxParts, res.notes...)
		decision = s.Clarifier.Decide(res.input)
	}
	ctxParts = append(ctxParts, s.fetchAll(ctx, user, decision.Fetch)...)
	contextText := truncate(joinNonEmpty(ctxParts, "\n\n"), s.cfg.MaxContextChars)

	userTurn := models.Turn{Role: models.RoleUser, Text: prompt}
	if decision.State == clarify.NeedsClarification {
		turns := []models.Turn{userTurn}
		if endsWithUserTurn(history, prompt) {
			turns = nil
		}
		id, err := s.saveTurns(ctx, conv, user, prompt, turns...)
		if err != nil {
			return nil, err
		}
		return &ChatResponse{
			Response:           ClarificationMessage,
			ConversationID:     id,
			ContextUsed:        contextText,
			NeedsClarification: true,
			Options:            decision.Options,
		}, nil
	}

	finalPrompt := s.buildPrompt(contextText, history, prompt, cleaned, req.ViewingType, req.ViewingID)
	answer, err := s.Generator.Generate(ctx, finalPrompt, generation.Options{Model: s.Generator.Model(req.Model)})
	if err != nil {
		return nil, fmt.Errorf("assistant: generate: %w", err)
	}
	answer = s.linkify(ctx, answer)

	turns := []models.Turn{userTurn, {Role: models.RoleAssistant, Text: answer}}
	if endsWithUserTurn(history, prompt) {
		turns = turns[1:]
	}
	id, err := s.saveTurns(ctx, conv, user, prompt, turns...)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Response: answer, ConversationID: id, ContextUsed: contextText}, nil
}

// ownedConversation loads id when given and checks that user owns it.
func (s *Service) ownedConversation(ctx context.Context, user, id string) (*models.Conversation, error) {
	if id == "" {
		return nil, nil
	}
	conv, err := s.Conversations.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Owner != user {
		return nil, fmt.Errorf("assistant: conversation %s: %w", id, apperr.ErrForbidden)
	}
	return conv, nil
}

// saveTurns appends turns to conv, or creates a conversation titled after
// prompt when conv is nil.
func (s *Service) saveTurns(ctx context.Context, conv *models.Conversation, user, prompt string, turns ...models.Turn) (string, error) {
	if conv == nil {
		c := &models.Conversation{
			ID:    uuid.NewString(),
			Title: truncate(prompt, TitleChars),
			Owner: user,
			Turns: turns,
		}
		if err := s.Conversations.CreateConversation(ctx, c); err != nil {
			return "", fmt.Errorf("assistant: save conversation: %w", err)
		}
		s.notify(user, c.ID)
		return c.ID, nil
	}
	if len(turns) > 0 {
		if _, err := s.Conversations.AppendTurns(ctx, conv.ID, user, turns...); err != nil {
			return "", fmt.Errorf("assistant: save conversation: %w", err)
		}
		s.notify(user, conv.ID)
	}
	return conv.ID, nil
}

// fetchAll renders the context of every resolved candidate.
func (s *Service) fetchAll(ctx context.Context, user string, cands []models.CandidateMatch) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		switch {
		case c.Domain == models.DomainInternal || c.Domain == "":
			if c.RecordType == "" {
				out = append(out, fmt.Sprintf("(System: Could not retrieve context for %s.)\n", c.ID))
				continue
			}
			out = append(out, s.Records.Context(ctx, c.RecordType, c.ID))
		case s.Workspace == nil:
			out = append(out, fmt.Sprintf("(System: %s is not available.)\n", c.Domain))
		case c.Domain == models.DomainContacts && strings.Contains(c.ID, "@"):
			// A contact picked for a mail search stands for its address.
			out = append(out, s.Workspace.SearchText(ctx, user, models.DomainMail, "from:"+c.ID))
		default:
			out = append(out, s.Workspace.Context(ctx, user, c.Domain, c.ID))
		}
	}
	return out
}

// ListConversations returns the current user's conversations.
func (s *Service) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	return s.Conversations.ListConversations(ctx, identity.User(ctx))
}

// GetConversation returns a conversation of the current user.
func (s *Service) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.User("A conversation id is required.", apperr.ErrInvalidInput)
	}
	return s.ownedConversation(ctx, identity.User(ctx), id)
}

// RecordFeedback stores whether a search result was helpful. The tally
// biases later searches for the same record.
func (s *Service) RecordFeedback(ctx context.Context, query, recordType, recordID string, helpful bool) error {
	rt, ok := s.Types.Lookup(recordType)
	if !ok {
		return apperr.User(fmt.Sprintf("Unknown record type %q.", recordType), apperr.ErrInvalidInput)
	}
	exists, err := s.Records.Exists(ctx, rt.Name, recordID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("assistant: feedback for %s %s: %w", rt.Name, recordID, apperr.ErrNotFound)
	}
	err = s.Conversations.AddFeedback(ctx, models.Feedback{
		SearchQuery: query,
		RecordType:  rt.Name,
		RecordName:  recordID,
		Helpful:     helpful,
		User:        identity.User(ctx),
	})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "search feedback recorded",
		slog.String("type", rt.Name),
		slog.String("id", recordID),
		slog.Bool("helpful", helpful))
	return nil
}

func lastUserTurn(history []models.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Text
		}
	}
	return ""
}

// endsWithUserTurn reports whether the last stored turn is prompt from the
// user, which is the case when a clarification is being answered.
func endsWithUserTurn(history []models.Turn, prompt string) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	return last.Role == models.RoleUser && last.Text == prompt
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimRight(p, "\n"))
		}
	}
	return strings.Join(kept, sep)
}
