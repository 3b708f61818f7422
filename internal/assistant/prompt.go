package assistant

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/tiwaz/internal/models"
)

var genericPrompts = map[string]bool{
	"summarize this":          true,
	"summarize":               true,
	"explain this":            true,
	"explain":                 true,
	"describe this":           true,
	"what is this":            true,
	"give me a summary":       true,
	"can you summarize this?": true,
	"tell me about this":      true,
}

// isGenericPrompt reports whether prompt only makes sense against the
// record the user is viewing.
func isGenericPrompt(prompt string) bool {
	return genericPrompts[strings.ToLower(strings.TrimSpace(prompt))]
}

const answerInstruction = "Answer the user query using the context and the conversation history above. " +
	"If the context does not contain the information, say that it was not found."

// buildPrompt lays out the generation prompt: system instruction, context,
// history, the cleaned query and the answer instruction.
func (s *Service) buildPrompt(contextText string, history []models.Turn, prompt, cleaned, viewingType, viewingID string) string {
	var b strings.Builder
	if s.cfg.SystemInstruction != "" {
		b.WriteString(s.cfg.SystemInstruction)
		b.WriteString("\n\n")
	}
	if viewingType != "" && viewingID != "" {
		fmt.Fprintf(&b, "--- CURRENT PAGE CONTEXT ---\nThe user is currently viewing the '%s' document titled '%s'. "+
			"Prioritize this information to answer their questions.\n--- END CONTEXT ---\n\n", viewingType, viewingID)
	}
	if contextText != "" {
		b.WriteString("--- Context ---\n")
		b.WriteString(contextText)
		b.WriteString("\n\n")
	}

	var lines []string
	for _, t := range history {
		if t.Text == prompt {
			continue
		}
		switch t.Role {
		case models.RoleUser:
			lines = append(lines, "User: "+t.Text)
		case models.RoleAssistant:
			lines = append(lines, "Assistant: "+t.Text)
		}
	}
	if len(lines) > 0 {
		b.WriteString("--- Conversation History ---\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\n")
	}

	b.WriteString("User query: ")
	b.WriteString(cleaned)
	b.WriteString("\n\n")
	b.WriteString(answerInstruction)
	return b.String()
}

// linkRe matches an existing Markdown link or a bare record id.
var linkRe = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)|\b[A-Z]{2,5}-\d{5,}\b`)

// linkify turns the ids of existing records in text into Markdown links to
// their forms. Ids already inside a link are left alone.
func (s *Service) linkify(ctx context.Context, text string) string {
	links := make(map[string]string)
	return linkRe.ReplaceAllStringFunc(text, func(m string) string {
		if strings.HasPrefix(m, "[") {
			return m
		}
		link, seen := links[m]
		if !seen {
			link = s.recordLink(ctx, m)
			links[m] = link
		}
		if link == "" {
			return m
		}
		return "[" + m + "](" + link + ")"
	})
}

func (s *Service) recordLink(ctx context.Context, id string) string {
	recordType, ok := s.Prefixes.ResolveID(id)
	if !ok {
		return ""
	}
	if _, ok := s.Types.Get(recordType); !ok {
		return ""
	}
	exists, err := s.Records.Exists(ctx, recordType, id)
	if err != nil || !exists {
		return ""
	}
	return s.Records.FormLink(recordType, id)
}
