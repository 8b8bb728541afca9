package web

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/notes"
	"github.com/hpungsan/dridash/internal/ops"
	"github.com/hpungsan/dridash/internal/settings"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	session  *ops.Session
	renderer *Renderer
}

// requestView is the settings one request works under.
type requestView struct {
	snap   settings.Snapshot
	locked []string
	params string
}

// applyOverrides installs the request's query parameters as locked
// overrides. The returned snapshot is the one the rest of the request must
// use; a concurrent request may replace the session's in the meantime.
func (h *Handlers) applyOverrides(r *http.Request) requestView {
	q := r.URL.Query()
	overrides := settings.ParseOverrides(q)
	return requestView{
		snap:   h.session.Apply(overrides, settings.Inputs{}),
		locked: overrides.Locked(),
		params: overrideParams(q),
	}
}

// HandleDashboard handles GET /: every section with its built queries and
// cached results. Nothing is fetched from the search API here.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	v := h.applyOverrides(r)

	d, err := h.session.DashboardFor(r.Context(), v.snap, v.locked)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, d)
		return
	}
	h.renderer.renderPage(w, r, "dashboard", h.dashboardData(d, v.params))
}

// HandleSettings handles POST /settings to apply and persist the settings form.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	q := r.URL.Query()
	params := overrideParams(q)

	// A field posted blank resets to its default.
	in := settings.FormInputs(r.PostForm)

	overrides := settings.ParseOverrides(q)
	snap := h.session.Apply(overrides, in)

	switch {
	case isHTMX(r):
		w.Header().Set("HX-Redirect", withQuery("/", params))
		w.WriteHeader(http.StatusOK)
	case wantsJSON(r):
		renderJSON(w, http.StatusOK, map[string]any{
			"settings":  snap,
			"has_token": snap.HasToken(),
			"locked":    overrides.Locked(),
		})
	default:
		http.Redirect(w, r, withQuery("/", params), http.StatusSeeOther)
	}
}

// HandleRefreshSection handles POST /sections/{section}/refresh. The loop
// runs on a context detached from the request, so a client that goes away
// does not cut the section short.
func (h *Handlers) HandleRefreshSection(w http.ResponseWriter, r *http.Request) {
	v := h.applyOverrides(r)
	section := r.PathValue("section")

	report, err := h.session.RefreshSectionFor(context.WithoutCancel(r.Context()), v.snap, section)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, report)
		return
	}

	d, err := h.session.DashboardFor(r.Context(), v.snap, v.locked)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	mergeReport(d, report)
	data := h.dashboardData(d, v.params)

	if isHTMX(r) {
		for _, sb := range data.Sections {
			if sb.Name == section {
				h.renderer.renderBlock(w, http.StatusOK, "dashboard", "section", sb)
				return
			}
		}
	}
	h.renderer.renderPage(w, r, "dashboard", data)
}

// HandleRefreshCard handles POST /cards/{id}/refresh. A failed search is
// shown on the card; only unknown cards and invalid settings are errors.
func (h *Handlers) HandleRefreshCard(w http.ResponseWriter, r *http.Request) {
	v := h.applyOverrides(r)

	res, err := h.session.RefreshCardFor(r.Context(), v.snap, r.PathValue("id"))
	if res == nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		renderJSON(w, http.StatusOK, res)
		return
	}
	if isHTMX(r) {
		h.renderer.renderBlock(w, http.StatusOK, "dashboard", "card", newCardBlock(res.CardView, v.params))
		return
	}

	d, derr := h.session.DashboardFor(r.Context(), v.snap, v.locked)
	if derr != nil {
		h.renderer.renderError(w, r, derr)
		return
	}
	replaceCard(d, res.CardView)
	h.renderer.renderPage(w, r, "dashboard", h.dashboardData(d, v.params))
}

// HandleNote handles POST /notes to store one item note. An htmx response
// is the edited note fragment followed by out-of-band swaps for every other
// card showing the same item.
func (h *Handlers) HandleNote(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	v := h.applyOverrides(r)

	in := ops.SetNoteInput{
		Key:  r.PostForm.Get("key"),
		Text: r.PostForm.Get("text"),
	}
	if val, ok := lastFormValue(r, "is_red"); ok {
		in.IsRed = settings.ParseBool(val)
	}
	card := r.PostForm.Get("card")

	res, err := h.session.SyncNote(v.snap, in, card)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	switch {
	case wantsJSON(r):
		mirrored := make([]string, 0, len(res.Mirrors))
		for _, m := range res.Mirrors {
			mirrored = append(mirrored, m.CardID)
		}
		renderJSON(w, http.StatusOK, map[string]any{"key": in.Key, "note": res.Entry, "mirrored": mirrored})
	case isHTMX(r):
		edited := itemBlock{ItemView: ops.ItemView{NoteKey: in.Key, Note: res.Entry}, CardID: card, Params: v.params}
		if res.Origin != nil {
			edited.ItemView = res.Origin.Item
		} else if _, id, ok := notes.SplitKey(in.Key); ok {
			edited.ID = id
		}
		parts := []fragment{{block: "note", data: edited}}
		for _, m := range res.Mirrors {
			parts = append(parts, fragment{block: "note", data: itemBlock{
				ItemView: m.Item, CardID: m.CardID, Params: v.params, OOB: true,
			}})
		}
		h.renderer.renderFragments(w, http.StatusOK, "dashboard", parts...)
	default:
		http.Redirect(w, r, withQuery("/", v.params), http.StatusSeeOther)
	}
}

// HandleRuns handles GET /runs, the recent refresh history.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	params := overrideParams(r.URL.Query())

	runs, err := h.session.Runs(parseIntParam(r, "limit", 50))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"runs": runs})
		return
	}
	h.renderer.renderPage(w, r, "runs", RunsPageData{
		PageData: PageData{Title: "History", Version: h.renderer.version, Nav: "runs", Params: params},
		Runs:     runs,
	})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"scope":   h.session.Scope(),
		"version": h.renderer.version,
	})
}

func (h *Handlers) dashboardData(d *ops.Dashboard, params string) DashboardPageData {
	data := DashboardPageData{
		PageData:    PageData{Title: "Dashboard", Version: h.renderer.version, Nav: "dashboard", Params: params},
		Snapshot:    d.Snapshot,
		Locked:      make(map[string]bool, len(d.Locked)),
		Fingerprint: d.Fingerprint,
		LabelsError: d.LabelsError,
		Sections:    make([]sectionBlock, 0, len(d.Sections)),
	}
	for _, f := range d.Locked {
		data.Locked[f] = true
	}
	for _, sv := range d.Sections {
		data.Sections = append(data.Sections, newSectionBlock(sv, params))
	}
	return data
}

// mergeReport overlays a section refresh onto the dashboard: the report's
// status line and the card results, failed ones included.
func mergeReport(d *ops.Dashboard, report *ops.SectionReport) {
	for i := range d.Sections {
		if d.Sections[i].Name != report.Section {
			continue
		}
		d.Sections[i].Status = report.Status
		d.Sections[i].Tone = report.Tone
	}
	for _, res := range report.Cards {
		replaceCard(d, res.CardView)
	}
}

func replaceCard(d *ops.Dashboard, cv ops.CardView) {
	for i := range d.Sections {
		for j := range d.Sections[i].Cards {
			if d.Sections[i].Cards[j].Card.ID == cv.Card.ID {
				d.Sections[i].Cards[j] = cv
				return
			}
		}
	}
}

// lastFormValue returns the last posted value of name. Checkboxes follow a
// hidden input of the same name, so the last value is the effective one.
func lastFormValue(r *http.Request, name string) (string, bool) {
	vals := r.PostForm[name]
	if len(vals) == 0 {
		return "", false
	}
	return vals[len(vals)-1], true
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
