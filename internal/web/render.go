package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/hpungsan/dridash/internal/db"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/ops"
	"github.com/hpungsan/dridash/internal/settings"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "dashboard", "runs"
	// Params is the encoded override query string carried by every link and form.
	Params string
}

// DashboardPageData is the template data for the dashboard page.
type DashboardPageData struct {
	PageData
	Snapshot    settings.Snapshot
	Locked      map[string]bool
	Fingerprint string
	LabelsError string
	Sections    []sectionBlock
}

// RunsPageData is the template data for the refresh history page.
type RunsPageData struct {
	PageData
	Runs []db.Run
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

type sectionBlock struct {
	ops.SectionView
	Params string
	Cards  []cardBlock
}

type cardBlock struct {
	ops.CardView
	Params string
	Items  []itemBlock
}

type itemBlock struct {
	ops.ItemView
	CardID   string
	Params   string
	BodyHTML template.HTML
	// OOB marks a note fragment swapped out of band into another card.
	OOB bool
}

func newSectionBlock(sv ops.SectionView, params string) sectionBlock {
	b := sectionBlock{SectionView: sv, Params: params, Cards: make([]cardBlock, 0, len(sv.Cards))}
	for _, cv := range sv.Cards {
		b.Cards = append(b.Cards, newCardBlock(cv, params))
	}
	return b
}

func newCardBlock(cv ops.CardView, params string) cardBlock {
	b := cardBlock{CardView: cv, Params: params, Items: make([]itemBlock, 0, len(cv.Items))}
	for _, it := range cv.Items {
		b.Items = append(b.Items, itemBlock{ItemView: it, CardID: cv.Card.ID, Params: params, BodyHTML: renderMarkdown(it.Body)})
	}
	return b
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"withQuery":  withQuery,
		"ago":        ago,
		"formatTime": formatTime,
		"took":       took,
		"fieldLabel": fieldLabel,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"dashboard": "dashboard.html",
		"runs":      "runs.html",
		"error":     "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a page with the given status. htmx requests get
// only the "content" block.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	block := "layout"
	if isHTMX(req) {
		block = "content"
	}
	r.renderBlock(w, status, name, block, data)
}

// renderBlock renders a named block of a page template, for partial swaps.
func (r *Renderer) renderBlock(w http.ResponseWriter, status int, page, block string, data any) {
	r.renderFragments(w, status, page, fragment{block: block, data: data})
}

// fragment is one block execution of a multi-part response.
type fragment struct {
	block string
	data  any
}

// renderFragments renders several blocks of a page template into one
// response, the main swap first and out-of-band swaps after it.
func (r *Renderer) renderFragments(w http.ResponseWriter, status int, page string, parts ...fragment) {
	t, ok := r.templates[page]
	if !ok {
		log.Printf("template %q not found", page)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	for _, p := range parts {
		if err := t.ExecuteTemplate(&buf, p.block, p.data); err != nil {
			log.Printf("template %s/%s execution error: %v", page, p.block, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	var dErr *errors.DashError
	if !stderrors.As(err, &dErr) {
		dErr = errors.NewInternal(err)
	}
	status := httpStatus(dErr.Status)

	if isHTMX(req) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(dErr.Message))
		return
	}

	if wantsJSON(req) {
		renderJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":    string(dErr.Code),
				"message": dErr.Message,
				"status":  dErr.Status,
			},
		})
		return
	}

	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Message:    dErr.Message,
	})
}

// httpStatus maps an error status onto a valid response code; upstream
// statuses outside 4xx/5xx become 502.
func httpStatus(status int) int {
	if status < 400 || status > 599 {
		return http.StatusBadGateway
	}
	return status
}

func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func isHTMX(req *http.Request) bool {
	return req != nil && req.Header.Get("HX-Request") == "true"
}

func wantsJSON(req *http.Request) bool {
	return req != nil && strings.Contains(req.Header.Get("Accept"), "application/json")
}

var bodyPolicy = bluemonday.UGCPolicy()

// renderMarkdown converts an item body to HTML and sanitizes the result.
func renderMarkdown(md string) template.HTML {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(bodyPolicy.SanitizeBytes(buf.Bytes()))
}

// withQuery appends the encoded override parameters to path.
func withQuery(path, params string) string {
	if params == "" {
		return path
	}
	return path + "?" + params
}

// overrideParams re-encodes the override fields of q, dropping everything else.
func overrideParams(q url.Values) string {
	out := url.Values{}
	for _, f := range settings.Fields {
		if q.Has(f) {
			out[f] = q[f]
		}
	}
	return out.Encode()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// formatTime formats a Unix timestamp as "2006-01-02 15:04" UTC.
func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}

// took formats the span between two Unix timestamps.
func took(start, end int64) string {
	if end < start {
		return "-"
	}
	return (time.Duration(end-start) * time.Second).String()
}

func fieldLabel(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}
