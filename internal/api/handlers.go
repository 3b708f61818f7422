package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/ops"
)

// maxBody bounds request bodies.
const maxBody = 10 << 20

// Handler holds API route handlers. Every handler runs its operation
// through the pipeline, so logging and error reporting are shared with MCP.
type Handler struct {
	ops *ops.Pipeline
}

// NewHandler creates a new Handler.
func NewHandler(p *ops.Pipeline) *Handler {
	return &Handler{ops: p}
}

// pathParam returns a URL parameter, decoding escaped slashes and spaces.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// invoke runs an operation and writes any failure. ok is false when the
// response has been written.
func (h *Handler) invoke(w http.ResponseWriter, r *http.Request, name string, args any) (any, bool) {
	raw, ok := args.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(args)
		if err != nil {
			slog.Error("encode arguments failed", slog.String("operation", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return nil, false
		}
	}
	out, err := h.ops.Invoke(r.Context(), name, raw)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return out, true
}

// respond runs an operation and writes its result with status.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, name string, args any) {
	out, ok := h.invoke(w, r, name, args)
	if !ok {
		return
	}
	if text, isText := out.(string); isText {
		out = TextResponse{Text: text}
	}
	writeJSON(w, status, out)
}

func mustJSON(v map[string]string) []byte {
	b, _ := json.Marshal(v)
	return b
}

// readBody returns the request body as raw JSON, or writes a 400.
func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return nil, false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return json.RawMessage("{}"), true
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return nil, false
	}
	return body, true
}

// ListOperations handles GET /api/ops.
//
//	@Summary		List the operations that can be invoked
//	@Tags			ops
//	@Produce		json
//	@Success		200	{array}		OperationInfo
//	@Security		BearerAuth
//	@Router			/ops [get]
func (h *Handler) ListOperations(w http.ResponseWriter, _ *http.Request) {
	all := h.ops.Registry().All()
	out := make([]OperationInfo, 0, len(all))
	for _, op := range all {
		info := OperationInfo{Name: op.Name, Domain: op.Domain, Description: op.Description, Params: []ParamInfo{}}
		for _, p := range op.Params {
			info.Params = append(info.Params, ParamInfo(p))
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// InvokeOperation handles POST /api/ops/{name}.
//
//	@Summary		Invoke an operation by name with a JSON object of arguments
//	@Tags			ops
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string	true	"Operation name"
//	@Success		200		{object}	any
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ops/{name} [post]
func (h *Handler) InvokeOperation(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, chi.URLParam(r, "name"), body)
}

// Chat handles POST /api/chat.
//
//	@Summary		Run one chat turn
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ChatRequest	true	"Chat turn"
//	@Success		200		{object}	ChatResponse
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chat [post]
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, "chat", body)
}

// GenerateText handles POST /api/generate.
//
//	@Summary		Generate text for a bare prompt
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GenerateRequest	true	"Prompt"
//	@Success		200		{object}	TextResponse
//	@Security		BearerAuth
//	@Router			/generate [post]
func (h *Handler) GenerateText(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, "generateText", body)
}

// ListConversations handles GET /api/conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, "listConversations", struct{}{})
}

// GetConversation handles GET /api/conversations/{id}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, "getConversation", map[string]string{"id": pathParam(r, "id")})
}

// RecordFeedback handles POST /api/feedback.
func (h *Handler) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusCreated, "recordFeedback", body)
}

// ProjectTasks handles GET /api/projects/{id}/tasks?template=.
func (h *Handler) ProjectTasks(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, "getProjectTasks", map[string]string{
		"project_id": pathParam(r, "id"),
		"template":   r.URL.Query().Get("template"),
	})
}

// ProjectRisks handles GET /api/projects/{id}/risks.
func (h *Handler) ProjectRisks(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, "getProjectRisks", map[string]string{"project_id": pathParam(r, "id")})
}

// IntegrationStatus handles GET /api/integrations/google/status.
func (h *Handler) IntegrationStatus(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, "checkIntegrationStatus", struct{}{})
}

// AuthURL handles GET /api/integrations/google/auth-url. With ?redirect=1
// the browser is sent straight to the consent page.
func (h *Handler) AuthURL(w http.ResponseWriter, r *http.Request) {
	out, ok := h.invoke(w, r, "getAuthUrl", struct{}{})
	if !ok {
		return
	}
	m, _ := out.(map[string]string)
	if u := m["url"]; u != "" && r.URL.Query().Get("redirect") != "" {
		http.Redirect(w, r, u, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTypes handles GET /api/types.
func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, "listRecordTypes", struct{}{})
}

// ListRecords handles GET /api/records/{type}. Every query parameter other
// than "fields" filters on the field of that name; fields is a comma list.
//
//	@Summary		List records of a type
//	@Tags			records
//	@Produce		json
//	@Param			type	path	string	true	"Record type"
//	@Param			fields	query	string	false	"Comma-separated fields to return"
//	@Success		200		{array}	models.Record
//	@Security		BearerAuth
//	@Router			/records/{type} [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := make(map[string]string)
	for k := range q {
		if k != "fields" {
			filters[k] = q.Get(k)
		}
	}
	var fields []string
	if f := q.Get("fields"); f != "" {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				fields = append(fields, name)
			}
		}
	}
	h.respond(w, r, http.StatusOK, "listRecords", map[string]any{
		"record_type": pathParam(r, "type"),
		"filters":     filters,
		"fields":      fields,
	})
}

// SearchRecords handles GET /api/records/{type}/search?q=&limit=.
func (h *Handler) SearchRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	h.respond(w, r, http.StatusOK, "searchRecords", map[string]any{
		"record_type": pathParam(r, "type"),
		"query":       q,
		"limit":       limit,
	})
}

func recordArgs(r *http.Request) map[string]string {
	return map[string]string{"record_type": pathParam(r, "type"), "record_id": pathParam(r, "id")}
}

// GetRecord handles GET /api/records/{type}/{id}. The ETag carries the
// checksum to send back as If-Match.
//
//	@Summary		Get a single record
//	@Tags			records
//	@Produce		json
//	@Param			type	path		string	true	"Record type"
//	@Param			id		path		string	true	"Record id"
//	@Success		200		{object}	models.Record
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{type}/{id} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	out, ok := h.invoke(w, r, "getRecord", recordArgs(r))
	if !ok {
		return
	}
	if rec, isRec := out.(*models.Record); isRec && rec.Checksum != "" {
		w.Header().Set("ETag", `"`+rec.Checksum+`"`)
	}
	writeJSON(w, http.StatusOK, out)
}

// RecordContext handles GET /api/records/{type}/{id}/context.
func (h *Handler) RecordContext(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, "getRecordContext", recordArgs(r))
}

// SaveRecord handles PUT /api/records/{type}/{id}.
//
//	@Summary		Create or replace a record with optimistic concurrency
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			type		path		string				true	"Record type"
//	@Param			id			path		string				true	"Record id"
//	@Param			If-Match	header		string				false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body		SaveRecordRequest	true	"Field values"
//	@Success		200			{object}	models.Record
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{type}/{id} [put]
func (h *Handler) SaveRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	var req SaveRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	h.respond(w, r, http.StatusOK, "saveRecord", map[string]any{
		"record_type": pathParam(r, "type"),
		"record_id":   pathParam(r, "id"),
		"fields":      req.Fields,
		"if_match":    ifMatch,
	})
}

// DeleteRecord handles DELETE /api/records/{type}/{id}.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.invoke(w, r, "deleteRecord", recordArgs(r)); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var workspaceSearchOps = map[models.Domain]string{
	models.DomainDocuments: "searchDocuments",
	models.DomainMail:      "searchMail",
	models.DomainCalendar:  "searchCalendar",
	models.DomainContacts:  "searchContacts",
}

// WorkspaceDomains handles GET /api/workspace/domains.
func (h *Handler) WorkspaceDomains(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, "listWorkspaceDomains", struct{}{})
}

// SearchWorkspace handles GET /api/workspace/{domain}/search?q=.
func (h *Handler) SearchWorkspace(w http.ResponseWriter, r *http.Request) {
	op, ok := workspaceSearchOps[models.Domain(chi.URLParam(r, "domain"))]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("unknown domain"))
		return
	}
	h.respond(w, r, http.StatusOK, op, map[string]string{"query": r.URL.Query().Get("q")})
}

// WorkspaceItem handles GET /api/workspace/{domain}/items/{id}.
func (h *Handler) WorkspaceItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, "fetchWorkspaceContext", map[string]string{
		"domain": chi.URLParam(r, "domain"),
		"id":     pathParam(r, "id"),
	})
}

// URLContext handles POST /api/context/urls.
func (h *Handler) URLContext(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, "fetchURLContext", body)
}

// Embed handles POST /api/context/embed.
func (h *Handler) Embed(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, "embedText", body)
}
