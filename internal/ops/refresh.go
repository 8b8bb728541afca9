package ops

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/db"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/query"
	"github.com/hpungsan/dridash/internal/settings"
)

// Section status tones.
const (
	ToneOK    = "ok"
	ToneError = "error"
)

// Run statuses recorded in the refresh history.
const (
	RunOK        = "ok"
	RunErrors    = "errors"
	RunCancelled = "cancelled"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newRunID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// CardResult is the outcome of refreshing one card.
type CardResult struct {
	CardView
	Err error `json:"-"`
}

// SectionReport is the outcome of refreshing a section.
type SectionReport struct {
	RunID      string       `json:"run_id"`
	Section    string       `json:"section"`
	Cards      []CardResult `json:"cards"`
	Errors     int          `json:"errors"`
	Status     string       `json:"status"`
	Tone       string       `json:"tone"`
	Cancelled  bool         `json:"cancelled,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// RefreshCard fetches one card and updates the card cache. A failed search
// is returned as an error; the card cache keeps its previous entry.
func (s *Session) RefreshCard(ctx context.Context, id string) (*CardResult, error) {
	return s.RefreshCardFor(ctx, s.Snapshot(), id)
}

// RefreshCardFor is RefreshCard under snap.
func (s *Session) RefreshCardFor(ctx context.Context, snap settings.Snapshot, id string) (*CardResult, error) {
	c, ok := catalog.Lookup(id)
	if !ok {
		return nil, errors.NewNotFound("card", id)
	}
	if !snap.RepoValid() {
		return nil, errors.NewInvalidRepo(snap.Repo)
	}

	started := s.now()
	res := s.fetchCard(ctx, c, snap)

	run := db.Run{
		ID:         newRunID(started),
		Scope:      s.scope,
		Target:     c.ID,
		Cards:      1,
		Status:     RunOK,
		StartedAt:  started.Unix(),
		FinishedAt: s.now().Unix(),
	}
	if res.Err != nil {
		run.Errors = 1
		run.Status = RunErrors
	}
	s.recordRun(run)

	if res.Err != nil {
		return &res, res.Err
	}
	return &res, nil
}

// RefreshSection refreshes the cards of section one after another, pausing
// between them. A failing card does not stop the loop. The context is
// checked between cards; cancellation ends the loop early and is reported
// as Cancelled, not as an error.
func (s *Session) RefreshSection(ctx context.Context, section string) (*SectionReport, error) {
	return s.RefreshSectionFor(ctx, s.Snapshot(), section)
}

// RefreshSectionFor is RefreshSection under snap.
func (s *Session) RefreshSectionFor(ctx context.Context, snap settings.Snapshot, section string) (*SectionReport, error) {
	if !catalog.IsSection(section) {
		return nil, errors.NewNotFound("section", section)
	}
	if !snap.RepoValid() {
		return nil, errors.NewInvalidRepo(snap.Repo)
	}

	cards := catalog.ForSection(section)
	started := s.now()
	report := &SectionReport{
		RunID:     newRunID(started),
		Section:   section,
		Cards:     make([]CardResult, 0, len(cards)),
		StartedAt: started,
	}

	for i, c := range cards {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		res := s.fetchCard(ctx, c, snap)
		if res.Err != nil {
			if errors.Is(res.Err, errors.ErrAborted) && ctx.Err() != nil {
				report.Cancelled = true
				break
			}
			report.Errors++
		}
		report.Cards = append(report.Cards, res)

		if i < len(cards)-1 {
			if err := s.limiter.Pause(ctx, snap.Token); err != nil {
				report.Cancelled = true
				break
			}
		}
	}

	report.FinishedAt = s.now()
	status := RunOK
	switch {
	case report.Cancelled:
		report.Status = fmt.Sprintf("Cancelled after %d of %d searches.", len(report.Cards), len(cards))
		report.Tone = ToneError
		status = RunCancelled
	case report.Errors > 0:
		report.Status = fmt.Sprintf("Completed with %d error(s).", report.Errors)
		report.Tone = ToneError
		status = RunErrors
	default:
		report.Status = StatusUpdated
		report.Tone = ToneOK
	}

	log.Printf("dridash: refresh %s run=%s cards=%d errors=%d status=%s",
		section, report.RunID, len(report.Cards), report.Errors, status)

	s.recordRun(db.Run{
		ID:         report.RunID,
		Scope:      s.scope,
		Target:     section,
		Cards:      len(report.Cards),
		Errors:     report.Errors,
		Status:     status,
		StartedAt:  started.Unix(),
		FinishedAt: report.FinishedAt.Unix(),
	})
	return report, nil
}

// fetchCard runs one card's search under snap. Errors are carried in the
// result so a section loop can continue.
func (s *Session) fetchCard(ctx context.Context, c catalog.Card, snap settings.Snapshot) CardResult {
	res := CardResult{CardView: CardView{Card: c}}

	var opts query.Options
	if query.NeedsLabels(c, snap) {
		driLabels, err := s.driLabels(ctx, snap)
		if err != nil {
			return failCard(res, err)
		}
		opts.DriLabels = driLabels
	}
	res.Query = query.Build(c, snap, opts)
	res.SearchURL = query.SearchURL(s.cfg.WebBaseURL, c, snap, opts)
	if res.Query == "" {
		return failCard(res, errors.NewInvalidRequest(fmt.Sprintf("card %s has no query", c.ID)))
	}

	if err := s.limiter.Wait(ctx, snap.Token); err != nil {
		return failCard(res, errors.NewAborted())
	}
	s.limiter.MarkFetched()

	result, err := s.client.Search(ctx, res.Query, snap.Token)
	if err != nil {
		return failCard(res, err)
	}

	now := s.now()
	entry := db.CardEntry{Items: result.Items, TotalCount: result.TotalCount, CachedAt: now.UnixMilli()}
	s.storeCard(snap, c.ID, entry)

	q, link := res.Query, res.SearchURL
	res.CardView = s.cardViewFromEntry(c, snap, entry, now)
	res.Query, res.SearchURL = q, link
	return res
}

func failCard(res CardResult, err error) CardResult {
	res.Err = err
	res.Error = errors.Message(err)
	res.Placeholder = res.Error
	return res
}

// storeCard records entry in the card cache for snap's fingerprint and
// persists the cache. Persistence failures are logged and ignored.
func (s *Session) storeCard(snap settings.Snapshot, id string, entry db.CardEntry) {
	fp := settings.Fingerprint(s.scope, snap)

	s.mu.Lock()
	cache := s.cache.For(fp)
	cards := make(map[string]db.CardEntry, len(cache.Cards)+1)
	for k, v := range cache.Cards {
		cards[k] = v
	}
	cards[id] = entry
	s.cache = db.CardCache{Fingerprint: fp, Cards: cards}
	snapshot := s.cache
	s.mu.Unlock()

	if err := db.SaveCardCache(s.db, s.scope, snapshot); err != nil {
		log.Printf("dridash: save card cache: %v", err)
	}
}

func (s *Session) recordRun(r db.Run) {
	if err := db.InsertRun(s.db, r); err != nil {
		log.Printf("dridash: record refresh run %s: %v", r.ID, err)
	}
}

// Runs returns the recent refresh history of the session's scope.
func (s *Session) Runs(limit int) ([]db.Run, error) {
	return db.ListRuns(s.db, s.scope, limit)
}
