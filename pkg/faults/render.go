package faults

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
)

var pageTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Rampart - {{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .RetryAfter}}<p>Please retry in {{.RetryAfter}} seconds.</p>{{end}}
</body>
</html>
`))

// titles for browser-facing error pages, keyed by kind.
var titles = map[Kind]string{
	KindAuthentication:    "Authentication required",
	KindRateLimit:         "Too many requests",
	KindUpstreamDown:      "Service temporarily unavailable",
	KindStreamInterrupted: "Stream interrupted",
	KindProtocolViolation: "Bad request",
	KindInternal:          "Something went wrong",
}

// WantsHTML reports whether the request prefers a rendered page over a JSON
// payload, based on the declared Accept header.
func WantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}

// Write renders err for an HTTP caller. Browser callers (Accept: text/html)
// receive an HTML page; everyone else receives a JSON error envelope.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	fe := normalize(err)
	code := statusCode(fe.Kind)

	if fe.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int64(fe.RetryAfter.Seconds()+0.5)))
	}

	if WantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(code)
		_ = pageTmpl.Execute(w, map[string]any{
			"Title":      titles[fe.Kind],
			"Message":    fe.Message,
			"RetryAfter": int64(fe.RetryAfter.Seconds() + 0.5),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	payload := map[string]any{
		"error": map[string]any{
			"kind":    string(fe.Kind),
			"message": fe.Message,
			"code":    code,
		},
	}
	if fe.RetryAfter > 0 {
		payload["error"].(map[string]any)["retry_after_seconds"] = int64(fe.RetryAfter.Seconds() + 0.5)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
