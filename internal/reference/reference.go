// Package reference parses @mentions and URLs out of a raw prompt.
package reference

import (
	"regexp"
	"sort"
	"strings"

	"github.com/starford/tiwaz/internal/models"
)

var (
	// @"quoted phrase", optionally typed as @Customer:"Acme Corp", or a bare
	// @token of alphanumerics, spaces, hyphens and dots (optionally bracketed).
	mentionRe = regexp.MustCompile(`@(?:([A-Za-z][A-Za-z_ ]*?):)?"([^"]+)"|@\[?([A-Za-z0-9][A-Za-z0-9 .\-]*)\]?`)
	urlRe     = regexp.MustCompile(`https?://[^\s/$.?#].[^\s]*`)
)

// Extract returns every mention and URL in prompt in order of first
// appearance. Duplicates are kept. A URL inside a mention yields both.
func Extract(prompt string) []models.Reference {
	refs := append(Mentions(prompt), urlRefs(prompt)...)
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Offset < refs[j].Offset })
	return refs
}

// Mentions returns only the internal-record references.
func Mentions(prompt string) []models.Reference {
	var out []models.Reference
	for _, m := range mentionRe.FindAllStringSubmatchIndex(prompt, -1) {
		token, hint := mentionToken(prompt, m)
		if token == "" {
			continue
		}
		out = append(out, models.Reference{
			Raw:      token,
			Kind:     models.RefInternalRecord,
			TypeHint: hint,
			Offset:   m[0],
		})
	}
	return out
}

// URLs returns every URL-pattern match in prompt, duplicates included.
func URLs(prompt string) []string {
	return urlRe.FindAllString(prompt, -1)
}

func urlRefs(prompt string) []models.Reference {
	var out []models.Reference
	for _, loc := range urlRe.FindAllStringIndex(prompt, -1) {
		out = append(out, models.Reference{
			Raw:    prompt[loc[0]:loc[1]],
			Kind:   models.RefURL,
			Offset: loc[0],
		})
	}
	return out
}

// Clean replaces every mention with its plain token text.
func Clean(prompt string) string {
	return mentionRe.ReplaceAllStringFunc(prompt, func(match string) string {
		m := mentionRe.FindStringSubmatchIndex(match)
		if m == nil {
			return match
		}
		token, _ := mentionToken(match, m)
		if token == "" {
			return match
		}
		return token
	})
}

// mentionToken picks the non-empty capture group of a mention match.
func mentionToken(s string, m []int) (token, hint string) {
	group := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return s[m[2*i]:m[2*i+1]]
	}
	if quoted := group(2); quoted != "" {
		return strings.TrimSpace(quoted), strings.TrimSpace(group(1))
	}
	return strings.TrimRight(group(3), " ."), ""
}
