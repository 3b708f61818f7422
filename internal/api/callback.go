package api

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/starford/tiwaz/internal/apperr"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
<p>You can close this window.</p>
</body>
</html>
`))

type callbackView struct {
	Title   string
	Message string
}

// OAuthCallback handles GET /api/integrations/google/callback. The
// provider redirects the browser here, so the answer is a page rather
// than JSON, and the user is recovered from the state parameter.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.ops.Invoke(r.Context(), "handleOAuthCallback", mustJSON(map[string]string{
		"code":  q.Get("code"),
		"state": q.Get("state"),
		"error": q.Get("error"),
	}))
	view := callbackView{Title: "Google account connected"}
	status := http.StatusOK
	if err != nil {
		status = statusOf(err)
		view = callbackView{Title: "Connection failed", Message: apperr.Public(err)}
	} else if m, ok := out.(map[string]string); ok && m["email"] != "" {
		view.Message = "Connected as " + m["email"] + "."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := callbackPage.Execute(w, view); err != nil {
		slog.Error("render callback page failed", slog.String("error", err.Error()))
	}
}
