package ops

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/db"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/notes"
	"github.com/hpungsan/dridash/internal/query"
	"github.com/hpungsan/dridash/internal/settings"
)

// Section status texts.
const (
	StatusNotLoaded = "Not loaded"
	StatusFromCache = "Loaded from cache"
	StatusUpdated   = "Updated."
)

// CardQuery is the built query of one card.
type CardQuery struct {
	ID        string `json:"id"`
	Section   string `json:"section"`
	Label     string `json:"label"`
	Query     string `json:"query"`
	SearchURL string `json:"search_url"`
}

// QueriesOutput is the result of Queries.
type QueriesOutput struct {
	Snapshot settings.Snapshot `json:"settings"`
	Queries  []CardQuery       `json:"queries"`
	// LabelsError is set when the DRI label set could not be loaded; label
	// clauses then fall back to the no-match sentinel.
	LabelsError string `json:"labels_error,omitempty"`
}

// Queries builds the query of every card for the current snapshot. The DRI
// label set is fetched (and cached) only when a label-sourced card needs it
// and the repository is valid.
func (s *Session) Queries(ctx context.Context) (*QueriesOutput, error) {
	return s.QueriesFor(ctx, s.Snapshot())
}

// QueriesFor is Queries under snap.
func (s *Session) QueriesFor(ctx context.Context, snap settings.Snapshot) (*QueriesOutput, error) {
	out := &QueriesOutput{Snapshot: snap, Queries: []CardQuery{}}

	driLabels, err := s.labelsForCatalog(ctx, snap)
	if err != nil {
		if errors.Is(err, errors.ErrAborted) {
			return nil, err
		}
		out.LabelsError = errors.Message(err)
	}

	opts := query.Options{DriLabels: driLabels}
	for _, c := range catalog.Cards() {
		out.Queries = append(out.Queries, CardQuery{
			ID:        c.ID,
			Section:   c.Section,
			Label:     c.Label,
			Query:     query.Build(c, snap, opts),
			SearchURL: query.SearchURL(s.cfg.WebBaseURL, c, snap, opts),
		})
	}
	return out, nil
}

func (s *Session) labelsForCatalog(ctx context.Context, snap settings.Snapshot) ([]string, error) {
	for _, c := range catalog.Cards() {
		if query.NeedsLabels(c, snap) {
			return s.driLabels(ctx, snap)
		}
	}
	return nil, nil
}

func (s *Session) driLabels(ctx context.Context, snap settings.Snapshot) ([]string, error) {
	if !snap.RepoValid() {
		return nil, nil
	}
	return s.labels.Get(ctx, snap.Repo, snap.Token, snap.DriToken, s.client)
}

// CardView is a card as shown on the dashboard.
type CardView struct {
	Card       catalog.Card `json:"card"`
	Query      string       `json:"query"`
	SearchURL  string       `json:"search_url"`
	Cached     bool         `json:"cached"`
	Stale      bool         `json:"stale"`
	CachedAt   time.Time    `json:"cached_at,omitempty"`
	TotalCount int          `json:"total_count"`
	Items      []ItemView   `json:"items"`
	// Placeholder replaces the list when there are no items to show.
	Placeholder string `json:"placeholder,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Count returns the count pill text.
func (v CardView) Count() string {
	switch {
	case v.Error != "":
		return "!"
	case !v.Cached:
		return "–"
	}
	return humanize.Comma(int64(v.TotalCount))
}

// SectionView groups the cards of a section.
type SectionView struct {
	Name   string     `json:"name"`
	Status string     `json:"status"`
	Tone   string     `json:"tone,omitempty"`
	Cards  []CardView `json:"cards"`
}

// Dashboard is the whole page model.
type Dashboard struct {
	Snapshot    settings.Snapshot `json:"settings"`
	Locked      []string          `json:"locked,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Sections    []SectionView     `json:"sections"`
	LabelsError string            `json:"labels_error,omitempty"`
}

// Hydrate returns the cached result of every card whose cache matches the
// current fingerprint, without any network access. Entries older than the
// card cache TTL are marked Stale.
func (s *Session) Hydrate() map[string]CardView {
	return s.HydrateFor(s.Snapshot())
}

// HydrateFor is Hydrate under snap.
func (s *Session) HydrateFor(snap settings.Snapshot) map[string]CardView {
	fp := settings.Fingerprint(s.scope, snap)
	now := s.now()

	s.mu.Lock()
	cache := s.cache
	s.mu.Unlock()

	out := make(map[string]CardView)
	if cache.Fingerprint == "" || cache.Fingerprint != fp {
		return out
	}
	for id, e := range cache.Cards {
		c, ok := catalog.Lookup(id)
		if !ok {
			continue
		}
		out[id] = s.cardViewFromEntry(c, snap, e, now)
	}
	return out
}

func (s *Session) cardViewFromEntry(c catalog.Card, snap settings.Snapshot, e db.CardEntry, now time.Time) CardView {
	v := CardView{
		Card:       c,
		Cached:     true,
		Stale:      !e.Fresh(now),
		TotalCount: e.TotalCount,
		Items:      make([]ItemView, 0, len(e.Items)),
	}
	if e.CachedAt > 0 {
		v.CachedAt = e.CachedTime()
	}
	for _, it := range e.Items {
		v.Items = append(v.Items, BuildItemView(c, it, snap, s.book.Get(notes.Key(snap.Repo, it.ID))))
	}
	if len(v.Items) == 0 {
		v.Placeholder = PlaceholderEmpty
	}
	return v
}

// Dashboard assembles every section with built queries and cached results.
func (s *Session) Dashboard(ctx context.Context) (*Dashboard, error) {
	return s.DashboardFor(ctx, s.Snapshot(), s.Locked())
}

// DashboardFor is Dashboard under snap, with locked naming the fields the
// caller's overrides fix.
func (s *Session) DashboardFor(ctx context.Context, snap settings.Snapshot, locked []string) (*Dashboard, error) {
	q, err := s.QueriesFor(ctx, snap)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]CardQuery, len(q.Queries))
	for _, cq := range q.Queries {
		byID[cq.ID] = cq
	}
	cached := s.HydrateFor(snap)

	d := &Dashboard{
		Snapshot:    q.Snapshot,
		Locked:      locked,
		Fingerprint: settings.Fingerprint(s.scope, q.Snapshot),
		LabelsError: q.LabelsError,
	}
	for _, name := range catalog.Sections() {
		sv := SectionView{Name: name, Status: StatusNotLoaded}
		fromCache := false
		for _, c := range catalog.ForSection(name) {
			v, ok := cached[c.ID]
			if ok {
				fromCache = true
			} else {
				v = CardView{Card: c, Placeholder: PlaceholderNotLoaded}
			}
			v.Query = byID[c.ID].Query
			v.SearchURL = byID[c.ID].SearchURL
			sv.Cards = append(sv.Cards, v)
		}
		if fromCache {
			sv.Status = StatusFromCache
		}
		d.Sections = append(d.Sections, sv)
	}
	return d, nil
}
