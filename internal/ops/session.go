package ops

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/hpungsan/dridash/internal/config"
	"github.com/hpungsan/dridash/internal/db"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/issue"
	"github.com/hpungsan/dridash/internal/labels"
	"github.com/hpungsan/dridash/internal/notes"
	"github.com/hpungsan/dridash/internal/ratelimit"
	"github.com/hpungsan/dridash/internal/settings"
)

// Client is the search transport the session drives.
type Client interface {
	Search(ctx context.Context, query, token string) (*issue.SearchResult, error)
	Labels(ctx context.Context, repo, token string) ([]string, error)
}

// Deps are the collaborators of a Session. Limiter, Labels and Now default
// when nil.
type Deps struct {
	DB      *sql.DB
	Config  *config.Config
	Client  Client
	Limiter *ratelimit.Limiter
	Labels  *labels.Cache
	Now     func() time.Time
}

// Session owns the dashboard state of one application instance: the current
// settings snapshot, the notes book and the card cache.
type Session struct {
	db      *sql.DB
	cfg     *config.Config
	client  Client
	limiter *ratelimit.Limiter
	labels  *labels.Cache
	now     func() time.Time
	scope   string

	book *notes.Book

	mu        sync.Mutex
	overrides settings.Partial
	saved     settings.Saved
	snap      settings.Snapshot
	cache     db.CardCache
}

// NewSession loads persisted state for the configured storage scope.
func NewSession(d Deps) (*Session, error) {
	if d.DB == nil {
		return nil, errors.NewInvalidRequest("database is required")
	}
	if d.Client == nil {
		return nil, errors.NewInvalidRequest("search client is required")
	}
	cfg := d.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Session{
		db:      d.DB,
		cfg:     cfg,
		client:  d.Client,
		limiter: d.Limiter,
		labels:  d.Labels,
		now:     d.Now,
		scope:   cfg.StorageScope,
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New()
	}
	if s.labels == nil {
		s.labels = labels.NewCache()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.scope == "" {
		s.scope = config.DefaultConfig().StorageScope
	}

	s.saved = db.LoadSettings(d.DB, s.scope)
	s.book = notes.NewBook(db.LoadNotes(d.DB, s.scope))
	s.cache = db.LoadCardCache(d.DB, s.scope)
	s.snap = settings.Resolve(cfg.DefaultSettings(), s.saved, s.overrides, settings.Inputs{})
	return s, nil
}

// Scope returns the storage scope.
func (s *Session) Scope() string { return s.scope }

// Config returns the application config.
func (s *Session) Config() *config.Config { return s.cfg }

// Limiter returns the session's rate limiter.
func (s *Session) Limiter() *ratelimit.Limiter { return s.limiter }

// Snapshot returns the current settings snapshot.
func (s *Session) Snapshot() settings.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Overrides returns the active overrides.
func (s *Session) Overrides() settings.Partial {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides
}

// Locked returns the fields fixed by overrides.
func (s *Session) Locked() []string {
	return s.Overrides().Locked()
}

// Fingerprint identifies the current settings for the card cache.
func (s *Session) Fingerprint() string {
	return settings.Fingerprint(s.scope, s.Snapshot())
}

// Apply installs overrides, merges inputs and replaces the snapshot. Inputs
// are persisted except for fields the overrides lock. A repository change
// drops the previous repository's label set.
func (s *Session) Apply(overrides settings.Partial, in settings.Inputs) settings.Snapshot {
	s.mu.Lock()
	prev := s.snap
	s.overrides = overrides
	next := settings.Persist(s.saved, overrides, in)
	changed := !sameSaved(next, s.saved)
	s.saved = next
	s.snap = settings.Resolve(s.cfg.DefaultSettings(), s.saved, s.overrides, in)
	snap := s.snap
	s.mu.Unlock()

	if changed {
		if err := db.SaveSettings(s.db, s.scope, next); err != nil {
			log.Printf("dridash: save settings: %v", err)
		}
	}
	if prev.Repo != snap.Repo && prev.Repo != "" {
		s.labels.Invalidate(prev.Repo)
	}
	return snap
}

func sameSaved(a, b settings.Saved) bool {
	ab, bb := a.UseBodyText, b.UseBodyText
	a.UseBodyText, b.UseBodyText = nil, nil
	if a != b {
		return false
	}
	if ab == nil || bb == nil {
		return ab == bb
	}
	return *ab == *bb
}

// Saved returns the persisted settings blob with the token redacted.
func (s *Session) Saved() settings.Saved {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.saved
	if out.Token != "" {
		out.Token = "(set)"
	}
	return out
}
