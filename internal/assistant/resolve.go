package assistant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/clarify"
	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/reference"
	"github.com/starford/tiwaz/internal/workspace"
)

// resolution is what a prompt resolved to before the clarification rules
// run. notes are system annotations for the context.
type resolution struct {
	input clarify.Input
	notes []string
}

func (s *Service) resolve(ctx context.Context, user, prompt, cleaned string) resolution {
	mentions := reference.Mentions(prompt)
	external, notes := s.resolveExternal(ctx, user, cleaned, mentions)
	return resolution{
		input: clarify.Input{
			Internal: s.resolveMentions(ctx, mentions, cleaned),
			External: external,
		},
		notes: notes,
	}
}

// resolveMentions returns the relevant internal candidates of every
// mention, without duplicates, in mention order.
func (s *Service) resolveMentions(ctx context.Context, mentions []models.Reference, cleaned string) []models.CandidateMatch {
	seen := make(map[string]bool)
	var out []models.CandidateMatch
	for _, ref := range mentions {
		for _, c := range s.resolveMention(ctx, ref, cleaned) {
			key := c.RecordType + "\x00" + c.ID
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	return out
}

// resolveMention narrows the record types a mention can refer to (explicit
// hint, id prefix, keywords in the prompt), returns an exact id hit when
// there is one and otherwise the fuzzy matches above the match threshold.
func (s *Service) resolveMention(ctx context.Context, ref models.Reference, cleaned string) []models.CandidateMatch {
	token := ref.Raw
	var types []string
	if ref.TypeHint != "" {
		if rt, ok := s.Types.Lookup(ref.TypeHint); ok {
			types = []string{rt.Name}
		}
	}
	if len(types) == 0 {
		if t, ok := s.Prefixes.ResolveID(token); ok {
			if _, registered := s.Types.Get(t); registered {
				types = []string{t}
			}
		}
	}
	if len(types) == 1 {
		if c, ok := s.exact(ctx, types[0], token); ok {
			return []models.CandidateMatch{c}
		}
	}
	if len(types) == 0 {
		if t, ok := s.Types.InferFromPrompt(cleaned, s.cfg.DoctypeMatchThreshold); ok {
			types = []string{t}
		} else {
			types = s.Types.Names()
		}
	}

	var out []models.CandidateMatch
	for _, t := range types {
		for _, c := range s.Matcher.Search(ctx, t, token, 0) {
			if c.Similarity >= s.cfg.MatchThreshold {
				out = append(out, c)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (s *Service) exact(ctx context.Context, recordType, id string) (models.CandidateMatch, bool) {
	ok, err := s.Records.Exists(ctx, recordType, id)
	if err != nil {
		logError(ctx, "record lookup failed", err)
		return models.CandidateMatch{}, false
	}
	if !ok {
		return models.CandidateMatch{}, false
	}
	return models.CandidateMatch{
		Domain:     models.DomainInternal,
		RecordType: recordType,
		ID:         id,
		Label:      id,
		Link:       s.Records.FormLink(recordType, id),
		Score:      100,
		Similarity: 100,
	}, true
}

// domainKeywords are the words that make a prompt search a domain.
var domainKeywords = []struct {
	domain models.Domain
	re     *regexp.Regexp
}{
	{models.DomainDocuments, regexp.MustCompile(`(?i)\b(?:google drive|drive|files?|documents?|docs?|spreadsheets?|sheets?|slides|pdfs?)\b`)},
	{models.DomainMail, regexp.MustCompile(`(?i)\b(?:e-?mails?|mails?|inbox|gmail|messages?)\b`)},
	{models.DomainCalendar, regexp.MustCompile(`(?i)\b(?:calendar|meetings?|events?|appointments?|schedule)\b`)},
	{models.DomainContacts, regexp.MustCompile(`(?i)\b(?:contacts?|phone numbers?|address book)\b`)},
}

// correspondentRe finds "from/by/to <Name>" or "from/by/to <address>".
var correspondentRe = regexp.MustCompile(`\b(?i:(from|by|to))\s+(?:"([^"]+)"|([\w.+-]+@[\w-]+(?:\.[\w-]+)+)|([A-Z][\w'-]*(?:\s+[A-Z][\w'-]*)*))`)

var fillerWords = map[string]bool{
	"a": true, "about": true, "all": true, "an": true, "and": true, "any": true,
	"are": true, "can": true, "do": true, "find": true, "for": true, "from": true,
	"get": true, "have": true, "i": true, "in": true, "is": true, "last": true,
	"latest": true, "list": true, "me": true, "my": true, "of": true, "on": true,
	"please": true, "recent": true, "search": true, "show": true, "the": true,
	"to": true, "what": true, "with": true, "you": true, "google": true,
	"upcoming": true, "next": true, "this": true, "week": true,
}

// searchQuery is the first mention, or the prompt without domain keywords
// and filler words.
func searchQuery(cleaned string, mentions []models.Reference) string {
	if len(mentions) > 0 {
		return mentions[0].Raw
	}
	text := cleaned
	for _, kw := range domainKeywords {
		text = kw.re.ReplaceAllString(text, " ")
	}
	var kept []string
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, `?!.,;:"'()`)
		if w == "" || fillerWords[strings.ToLower(w)] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// resolveExternal searches the domains the prompt asks about.
func (s *Service) resolveExternal(ctx context.Context, user, cleaned string, mentions []models.Reference) (map[models.Domain][]models.CandidateMatch, []string) {
	if s.Workspace == nil {
		return nil, nil
	}
	external := make(map[models.Domain][]models.CandidateMatch)
	var notes []string
	authNoted := false
	note := func(d models.Domain, err error) {
		switch {
		case errors.Is(err, apperr.ErrConfiguration):
		case errors.Is(err, apperr.ErrAuthorization):
			if !authNoted {
				authNoted = true
				notes = append(notes, workspace.NoCredentialMessage)
			}
		default:
			logError(ctx, "workspace search failed", err)
			notes = append(notes, fmt.Sprintf("(System: An error occurred while searching %s.)\n", d))
		}
	}

	query := searchQuery(cleaned, mentions)
	queries := make(map[models.Domain]string)
	for _, kw := range domainKeywords {
		if kw.re.MatchString(cleaned) {
			queries[kw.domain] = query
		}
	}
	if len(queries) == 0 {
		return nil, nil
	}

	if _, ok := queries[models.DomainMail]; ok {
		if m := correspondentRe.FindStringSubmatch(cleaned); m != nil {
			mailQuery, suggestions, err := s.correspondentQuery(ctx, user, m)
			switch {
			case err != nil:
				note(models.DomainContacts, err)
			case len(suggestions) > 0:
				delete(queries, models.DomainMail)
				external[models.DomainContacts] = append(external[models.DomainContacts], suggestions...)
			case mailQuery != "":
				queries[models.DomainMail] = mailQuery
			}
		}
	}

	for d, res := range s.Workspace.SearchDomains(ctx, user, queries, workspace.DefaultLimit) {
		if res.Err != nil {
			note(d, res.Err)
			continue
		}
		for _, it := range res.Items {
			external[d] = append(external[d], it.Candidate(d))
		}
	}
	sort.Strings(notes)
	return external, notes
}

// correspondentQuery turns a "from <Name>" match into a mail search
// operator. A name that cannot be resolved confidently yields contact
// suggestions instead.
func (s *Service) correspondentQuery(ctx context.Context, user string, m []string) (string, []models.CandidateMatch, error) {
	op := "from:"
	if strings.EqualFold(m[1], "to") {
		op = "to:"
	}
	if m[3] != "" {
		return op + m[3], nil, nil
	}
	name := m[2]
	if name == "" {
		name = m[4]
	}
	res, err := s.Workspace.ResolveContact(ctx, user, name)
	if err != nil {
		return "", nil, err
	}
	if res.BestMatch != nil {
		return op + res.BestMatch.Email, nil, nil
	}
	suggestions := make([]models.CandidateMatch, 0, len(res.Suggestions))
	for _, c := range res.Suggestions {
		suggestions = append(suggestions, models.CandidateMatch{
			Domain: models.DomainContacts,
			ID:     c.Email,
			Label:  c.Name + " <" + c.Email + ">",
			Score:  c.Score,
		})
	}
	if len(suggestions) == 0 {
		return name, nil, nil
	}
	return "", suggestions, nil
}
