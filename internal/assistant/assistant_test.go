package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/generation"
	"github.com/starford/tiwaz/internal/identity"
	"github.com/starford/tiwaz/internal/matcher"
	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/ops"
	"github.com/starford/tiwaz/internal/recordservice"
	"github.com/starford/tiwaz/internal/recordtype"
	"github.com/starford/tiwaz/internal/store"
	"github.com/starford/tiwaz/internal/testutil"
	"github.com/starford/tiwaz/internal/workspace"
)

type fakeGen struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	models  []string
}

func (g *fakeGen) Generate(_ context.Context, prompt string, opts generation.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	g.models = append(g.models, opts.Model)
	return g.reply, g.err
}

func (g *fakeGen) Model(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return "test-model"
}

func (g *fakeGen) last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type fakeURLs struct {
	text string
	err  error
}

func (f fakeURLs) Fetch(context.Context, []string) (string, error) { return f.text, f.err }

type fakeWorkspace struct {
	mu       sync.Mutex
	results  map[models.Domain]workspace.Result
	contacts workspace.ContactResult
	queries  []map[models.Domain]string
	searches []string
}

func (w *fakeWorkspace) SearchDomains(_ context.Context, _ string, queries map[models.Domain]string, _ int) map[models.Domain]workspace.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queries = append(w.queries, queries)
	out := make(map[models.Domain]workspace.Result, len(queries))
	for d := range queries {
		out[d] = w.results[d]
	}
	return out
}

func (w *fakeWorkspace) Context(_ context.Context, _ string, d models.Domain, id string) string {
	return fmt.Sprintf("Context for %s %s", d, id)
}

func (w *fakeWorkspace) SearchText(_ context.Context, _ string, d models.Domain, query string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.searches = append(w.searches, string(d)+" "+query)
	return "Results for " + query
}

func (w *fakeWorkspace) ResolveContact(context.Context, string, string) (workspace.ContactResult, error) {
	return w.contacts, nil
}

type fakeEvents struct {
	mu      sync.Mutex
	updated []string
}

func (e *fakeEvents) ConversationUpdated(owner, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updated = append(e.updated, owner+"/"+id)
}

type env struct {
	svc    *Service
	db     *store.DB
	gen    *fakeGen
	ws     *fakeWorkspace
	events *fakeEvents
}

func setup(t *testing.T, recs ...models.Record) *env {
	t.Helper()
	db := testutil.TestDB(t)
	testutil.SeedRecords(t, db, recs...)
	_, files := testutil.TestVault(t)
	types := recordtype.NewRegistry(testutil.SalesTypes())
	e := &env{
		db:     db,
		gen:    &fakeGen{reply: "Acme is a customer."},
		ws:     &fakeWorkspace{results: map[models.Domain]workspace.Result{}},
		events: &fakeEvents{},
	}
	e.svc = New(Deps{
		Conversations: db,
		Records:       recordservice.NewService(files, db, types, "http://erp.local", 0),
		Types:         types,
		Prefixes:      recordtype.NewPrefixResolver(types, nil),
		Matcher:       matcher.New(types, db, db, ops.NopSink{}, "http://erp.local"),
		Generator:     e.gen,
		URLs:          fakeURLs{text: "Page text"},
		Workspace:     e.ws,
		Events:        e.events,
	}, Config{
		SystemInstruction:     "Be brief.",
		MatchThreshold:        75,
		DoctypeMatchThreshold: 80,
	})
	return e
}

func userCtx(user string) context.Context {
	return identity.WithUser(context.Background(), user)
}

func acme() []models.Record {
	return []models.Record{
		testutil.Rec("Customer", "CUST-00001", "customer_name", "Acme Corp", "territory", "EU"),
		testutil.Rec("Customer", "CUST-00002", "customer_name", "Acme Holdings", "territory", "US"),
	}
}

func widgets(n int) []models.Record {
	recs := make([]models.Record, 0, n)
	for i := 1; i <= n; i++ {
		recs = append(recs, testutil.Rec("Customer", fmt.Sprintf("CUST-%05d", i), "customer_name", fmt.Sprintf("Widget Co %02d", i)))
	}
	return recs
}

func TestChatAnswersWithMentionedRecord(t *testing.T) {
	e := setup(t, acme()...)
	ctx := userCtx("ann@example.com")

	resp, err := e.svc.Chat(ctx, ChatRequest{Prompt: `Tell me about @"Acme Corp"`})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.NeedsClarification {
		t.Fatalf("unexpected clarification: %+v", resp.Options)
	}
	if resp.Response != "Acme is a customer." {
		t.Errorf("response = %q", resp.Response)
	}
	if !strings.Contains(resp.ContextUsed, "Context for Customer 'CUST-00001'") {
		t.Errorf("context missing record:\n%s", resp.ContextUsed)
	}
	if strings.Contains(resp.ContextUsed, "CUST-00002") {
		t.Errorf("context holds the weaker match:\n%s", resp.ContextUsed)
	}

	prompt := e.gen.last()
	for _, want := range []string{"Be brief.", "--- Context ---", "- customer_name: Acme Corp", "User query: Tell me about Acme Corp"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if e.gen.models[0] != "test-model" {
		t.Errorf("model = %q", e.gen.models[0])
	}

	conv, err := e.svc.GetConversation(ctx, resp.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv.Turns) != 2 || conv.Turns[0].Role != models.RoleUser || conv.Turns[1].Text != "Acme is a customer." {
		t.Errorf("turns = %+v", conv.Turns)
	}
	if conv.Title != `Tell me about @"Acme Corp"` {
		t.Errorf("title = %q", conv.Title)
	}
	if len(e.events.updated) != 1 {
		t.Errorf("events = %v", e.events.updated)
	}
}

func TestChatExactIDMention(t *testing.T) {
	e := setup(t, acme()...)
	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: "status of @CUST-00002"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.Contains(resp.ContextUsed, "Context for Customer 'CUST-00002'") {
		t.Errorf("context:\n%s", resp.ContextUsed)
	}
}

func TestChatAsksForClarification(t *testing.T) {
	e := setup(t, widgets(21)...)
	ctx := userCtx("ann")

	resp, err := e.svc.Chat(ctx, ChatRequest{Prompt: `Which @"Widget Co" ordered most?`})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.NeedsClarification {
		t.Fatal("expected clarification")
	}
	if len(resp.Options) != 20 {
		t.Errorf("options = %d, want 20", len(resp.Options))
	}
	if resp.Response != ClarificationMessage {
		t.Errorf("response = %q", resp.Response)
	}
	if len(e.gen.prompts) != 0 {
		t.Error("generation called before clarification")
	}

	resp2, err := e.svc.Chat(ctx, ChatRequest{
		ConversationID:  resp.ConversationID,
		SelectedOptions: []models.OptionRef{resp.Options[2].Ref()},
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resp2.NeedsClarification {
		t.Fatal("resume asked again")
	}
	if resp2.ConversationID != resp.ConversationID {
		t.Errorf("conversation = %s, want %s", resp2.ConversationID, resp.ConversationID)
	}
	if !strings.Contains(resp2.ContextUsed, "'"+resp.Options[2].ID+"'") {
		t.Errorf("context:\n%s", resp2.ContextUsed)
	}

	conv, err := e.svc.GetConversation(ctx, resp.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv.Turns) != 2 {
		t.Fatalf("turns = %+v, want user and assistant once", conv.Turns)
	}
	if conv.Turns[0].Text != `Which @"Widget Co" ordered most?` {
		t.Errorf("user turn = %q", conv.Turns[0].Text)
	}
}

func TestChatResumeWithDocumentOption(t *testing.T) {
	e := setup(t)

	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{
		Prompt:          "Summarise the budget document",
		SelectedOptions: []models.OptionRef{{Domain: models.DomainDocuments, ID: "doc-1"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	want := fmt.Sprintf("Context for %s doc-1", models.DomainDocuments)
	if !strings.Contains(resp.ContextUsed, want) {
		t.Errorf("context:\n%s", resp.ContextUsed)
	}
	if len(e.ws.searches) != 0 {
		t.Errorf("searches = %v, want none", e.ws.searches)
	}
}

func TestChatResumeWithContactOptionSearchesMail(t *testing.T) {
	e := setup(t)

	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{
		Prompt:          "Show my emails from John",
		SelectedOptions: []models.OptionRef{{Domain: models.DomainContacts, ID: "john@example.com"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(e.ws.searches) != 1 || e.ws.searches[0] != string(models.DomainMail)+" from:john@example.com" {
		t.Errorf("searches = %v", e.ws.searches)
	}
	if !strings.Contains(resp.ContextUsed, "Results for from:john@example.com") {
		t.Errorf("context:\n%s", resp.ContextUsed)
	}
}

func TestChatResumeWithoutWorkspace(t *testing.T) {
	e := setup(t)
	e.svc.Workspace = nil

	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{
		Prompt: "Summarise these",
		SelectedOptions: []models.OptionRef{
			{Domain: models.DomainDocuments, ID: "doc-1"},
			{Domain: models.DomainContacts, ID: "john@example.com"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	for _, d := range []models.Domain{models.DomainDocuments, models.DomainContacts} {
		note := fmt.Sprintf("(System: %s is not available.)", d)
		if !strings.Contains(resp.ContextUsed, note) {
			t.Errorf("missing %q in:\n%s", note, resp.ContextUsed)
		}
	}
	if len(e.gen.prompts) != 1 {
		t.Error("generation not called")
	}
}

func TestChatTwentyMatchesAnswerDirectly(t *testing.T) {
	e := setup(t, widgets(20)...)
	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: `Compare @"Widget Co"`})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.NeedsClarification {
		t.Fatal("twenty matches should not need clarification")
	}
	if got := strings.Count(resp.ContextUsed, "Context for Customer"); got != 20 {
		t.Errorf("records in context = %d, want 20", got)
	}
}

func TestChatIncludesHistory(t *testing.T) {
	e := setup(t, acme()...)
	ctx := userCtx("ann")
	first, err := e.svc.Chat(ctx, ChatRequest{Prompt: `Tell me about @"Acme Corp"`})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, err := e.svc.Chat(ctx, ChatRequest{Prompt: "What territory?", ConversationID: first.ConversationID}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	want := "--- Conversation History ---\nUser: Tell me about @\"Acme Corp\"\nAssistant: Acme is a customer.\n\nUser query: What territory?"
	if !strings.Contains(e.gen.last(), want) {
		t.Errorf("prompt:\n%s", e.gen.last())
	}
}

func TestChatOtherUsersConversationForbidden(t *testing.T) {
	e := setup(t, acme()...)
	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	_, err = e.svc.Chat(userCtx("bob"), ChatRequest{Prompt: "hi", ConversationID: resp.ConversationID})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
	if _, err := e.svc.GetConversation(userCtx("bob"), resp.ConversationID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("GetConversation err = %v, want ErrForbidden", err)
	}
	list, err := e.svc.ListConversations(userCtx("bob"))
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("bob sees %d conversations", len(list))
	}
}

func TestChatRequiresPromptAndUser(t *testing.T) {
	e := setup(t)
	if _, err := e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: "  "}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty prompt err = %v", err)
	}
	if _, err := e.svc.Chat(context.Background(), ChatRequest{Prompt: "hi"}); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("no user err = %v", err)
	}
}

func TestChatURLContext(t *testing.T) {
	e := setup(t)
	note := "(System: The URL 'http://bad.example' was skipped because it is on the blacklist.)\n\n"
	e.svc.URLs = fakeURLs{text: note + "Page text"}
	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: "read http://bad.example and https://ok.example"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.Contains(resp.ContextUsed, "was skipped because it is on the blacklist") || !strings.Contains(resp.ContextUsed, "Page text") {
		t.Errorf("context:\n%s", resp.ContextUsed)
	}
}

func TestChatURLFailureAborts(t *testing.T) {
	e := setup(t)
	e.svc.URLs = fakeURLs{err: fmt.Errorf("fetch: %w", apperr.ErrTransientProvider)}
	if _, err := e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: "read https://down.example"}); !errors.Is(err, apperr.ErrTransientProvider) {
		t.Fatalf("err = %v", err)
	}
	list, _ := e.svc.ListConversations(userCtx("ann"))
	if len(list) != 0 {
		t.Error("failed turn was saved")
	}
}

func TestChatViewedRecordForGenericPrompt(t *testing.T) {
	e := setup(t, acme()...)
	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: "Summarize this", ViewingType: "Customer", ViewingID: "CUST-00002"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.HasPrefix(resp.ContextUsed, "Context for Customer 'CUST-00002'") {
		t.Errorf("context:\n%s", resp.ContextUsed)
	}
	if !strings.Contains(e.gen.last(), "viewing the 'Customer' document titled 'CUST-00002'") {
		t.Errorf("prompt:\n%s", e.gen.last())
	}

	resp, err = e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: "Who is our biggest client?", ViewingType: "Customer", ViewingID: "CUST-00002"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if strings.Contains(resp.ContextUsed, "CUST-00002") {
		t.Errorf("specific prompt pulled the viewed record:\n%s", resp.ContextUsed)
	}
}

func TestChatLinkifiesKnownIDs(t *testing.T) {
	e := setup(t, acme()...)
	e.gen.reply = "See CUST-00001, CUST-99999 and [CUST-00002](http://x)."
	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: "Which customers matter?"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	want := "See [CUST-00001](http://erp.local/app/customer/CUST-00001), CUST-99999 and [CUST-00002](http://x)."
	if resp.Response != want {
		t.Errorf("response = %q, want %q", resp.Response, want)
	}
}

func TestChatMailFromResolvedContact(t *testing.T) {
	e := setup(t)
	e.ws.contacts = workspace.ContactResult{BestMatch: &workspace.Contact{Name: "John Smith", Email: "john@example.com", Score: 1}}
	e.ws.results[models.DomainMail] = workspace.Result{Items: []workspace.Item{{ID: "m1", Label: "Budget"}}}

	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: "Show my emails from John Smith"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := e.ws.queries[0][models.DomainMail]; got != "from:john@example.com" {
		t.Errorf("mail query = %q", got)
	}
	if !strings.Contains(resp.ContextUsed, "Context for mail m1") {
		t.Errorf("context:\n%s", resp.ContextUsed)
	}
}

func TestChatAmbiguousContactNeedsClarification(t *testing.T) {
	e := setup(t)
	e.ws.contacts = workspace.ContactResult{Suggestions: []workspace.Contact{
		{Name: "Jon Smith", Email: "jon@example.com", Score: 0.9},
		{Name: "Joan Smith", Email: "joan@example.com", Score: 0.9},
	}}
	ctx := userCtx("ann")

	resp, err := e.svc.Chat(ctx, ChatRequest{Prompt: "Show my emails from John Smith"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.NeedsClarification || len(resp.Options) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Options[0].Label != "Jon Smith <jon@example.com>" || resp.Options[0].Domain != models.DomainContacts {
		t.Errorf("option = %+v", resp.Options[0])
	}
	if _, ok := e.ws.queries[0][models.DomainMail]; ok {
		t.Error("mail searched before the sender was chosen")
	}

	resp, err = e.svc.Chat(ctx, ChatRequest{ConversationID: resp.ConversationID, SelectedOptions: []models.OptionRef{resp.Options[1].Ref()}})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(e.ws.searches) != 1 || e.ws.searches[0] != "mail from:joan@example.com" {
		t.Errorf("searches = %v", e.ws.searches)
	}
	if !strings.Contains(resp.ContextUsed, "Results for from:joan@example.com") {
		t.Errorf("context:\n%s", resp.ContextUsed)
	}
}

func TestChatDisconnectedWorkspaceDegrades(t *testing.T) {
	e := setup(t)
	noCred := workspace.Result{Err: fmt.Errorf("workspace: %w", apperr.ErrAuthorization)}
	e.ws.results[models.DomainDocuments] = noCred
	e.ws.results[models.DomainCalendar] = noCred

	resp, err := e.svc.Chat(userCtx("ann"), ChatRequest{Prompt: "Find the budget documents for the next meeting"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := strings.Count(resp.ContextUsed, workspace.NoCredentialMessage); got != 1 {
		t.Errorf("credential notes = %d:\n%s", got, resp.ContextUsed)
	}
	if got := e.ws.queries[0][models.DomainDocuments]; got != "budget" {
		t.Errorf("documents query = %q", got)
	}
	if len(e.gen.prompts) != 1 {
		t.Error("generation not called")
	}
}

func TestSearchQuery(t *testing.T) {
	if got := searchQuery("Find the quarterly report in my google drive", nil); got != "quarterly report" {
		t.Errorf("query = %q", got)
	}
	mentions := []models.Reference{{Raw: "Acme Corp"}}
	if got := searchQuery("emails about Acme Corp", mentions); got != "Acme Corp" {
		t.Errorf("query = %q", got)
	}
}

func TestIsGenericPrompt(t *testing.T) {
	for _, p := range []string{"Summarize this", "  what is this ", "Can you summarize this?"} {
		if !isGenericPrompt(p) {
			t.Errorf("%q should be generic", p)
		}
	}
	if isGenericPrompt("summarize the Acme deal") {
		t.Error("specific prompt reported generic")
	}
}

func TestRecordFeedback(t *testing.T) {
	e := setup(t, acme()...)
	ctx := userCtx("ann")
	if err := e.svc.RecordFeedback(ctx, "acme", "customer", "CUST-00001", true); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	tally, err := e.db.FeedbackTally(ctx, "Customer", "CUST-00001")
	if err != nil {
		t.Fatalf("FeedbackTally: %v", err)
	}
	if tally != 1 {
		t.Errorf("tally = %d, want 1", tally)
	}
	if err := e.svc.RecordFeedback(ctx, "acme", "Customer", "CUST-99999", true); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing record err = %v", err)
	}
	if err := e.svc.RecordFeedback(ctx, "acme", "Planet", "X", true); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("unknown type err = %v", err)
	}
}

func projects() []models.Record {
	return []models.Record{testutil.Rec("Project", "PROJ-0001", "project_name", "Apollo", "status", "Open")}
}

func TestProjectTasks(t *testing.T) {
	e := setup(t, projects()...)
	e.gen.reply = "```json\n[{\"subject\":\"Plan\",\"description\":\"Write the plan\"}]\n```"
	got, err := e.svc.ProjectTasks(context.Background(), "PROJ-0001", "Agile")
	if err != nil {
		t.Fatalf("ProjectTasks: %v", err)
	}
	if got.Error != "" || len(got.Items) != 1 || got.Items[0].Subject != "Plan" {
		t.Fatalf("analysis = %+v", got)
	}
	prompt := e.gen.last()
	if !strings.Contains(prompt, "the template 'Agile'") || !strings.Contains(prompt, `"project_name":"Apollo"`) {
		t.Errorf("prompt:\n%s", prompt)
	}
}

func TestProjectRisksUnparseable(t *testing.T) {
	e := setup(t, projects()...)
	e.gen.reply = "The main risk is the budget."
	got, err := e.svc.ProjectRisks(context.Background(), "PROJ-0001")
	if err != nil {
		t.Fatalf("ProjectRisks: %v", err)
	}
	if got.Error != ParseFailure || got.Raw != "The main risk is the budget." {
		t.Errorf("analysis = %+v", got)
	}
}

func TestProjectMissing(t *testing.T) {
	e := setup(t)
	got, err := e.svc.ProjectRisks(context.Background(), "PROJ-0404")
	if err != nil {
		t.Fatalf("ProjectRisks: %v", err)
	}
	if got.Error != "Project not found." {
		t.Errorf("analysis = %+v", got)
	}
	if len(e.gen.prompts) != 0 {
		t.Error("generation called for a missing project")
	}
}

func TestGenerateTextPassesModel(t *testing.T) {
	e := setup(t)
	e.gen.reply = "hi"
	got, err := e.svc.GenerateText(context.Background(), "hello", "gemini-2.5-flash")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "hi" || e.gen.models[0] != "gemini-2.5-flash" {
		t.Errorf("got %q with model %q", got, e.gen.models[0])
	}
	if _, err := e.svc.GenerateText(context.Background(), " ", ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}
