// Package labels caches each repository's label catalog and derives the
// DRI label set from it.
package labels

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/dri"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/settings"
)

// Fetcher loads a repository's label names.
type Fetcher interface {
	Labels(ctx context.Context, repo, token string) ([]string, error)
}

type entry struct {
	names     []string
	fetchedAt time.Time
}

// Cache holds label catalogs keyed by repository. Switching to another
// repository drops the previous one's entry. Concurrent misses for the same
// repository share one fetch.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	current string
	group   singleflight.Group

	TTL time.Duration
	Now func() time.Time
}

// NewCache returns an empty cache with the default TTL.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		TTL:     catalog.DriLabelsTTL,
		Now:     time.Now,
	}
}

// Get returns the labels of repo that carry driToken, in the repository's
// order. The catalog is fetched when missing or expired; a failed fetch
// leaves any previous entry in place and returns the error.
func (c *Cache) Get(ctx context.Context, repo, token, driToken string, f Fetcher) ([]string, error) {
	repo = strings.TrimSpace(repo)
	if !settings.ValidRepo(repo) {
		return nil, errors.NewInvalidRepo(repo)
	}

	c.mu.Lock()
	if c.current != "" && c.current != repo {
		delete(c.entries, c.current)
	}
	c.current = repo
	e, ok := c.entries[repo]
	fresh := ok && c.Now().Sub(e.fetchedAt) < c.TTL
	c.mu.Unlock()

	if !fresh {
		// The shared fetch outlives any one caller; each caller stops
		// waiting on its own cancellation.
		fetchCtx := context.WithoutCancel(ctx)
		ch := c.group.DoChan(repo, func() (any, error) {
			c.mu.Lock()
			cur, ok := c.entries[repo]
			c.mu.Unlock()
			if ok && c.Now().Sub(cur.fetchedAt) < c.TTL {
				return cur, nil
			}
			names, err := f.Labels(fetchCtx, repo, token)
			if err != nil {
				return nil, err
			}
			fetched := entry{names: append([]string(nil), names...), fetchedAt: c.Now()}
			c.mu.Lock()
			if c.current == repo {
				c.entries[repo] = fetched
			}
			c.mu.Unlock()
			return fetched, nil
		})
		select {
		case <-ctx.Done():
			return nil, errors.NewAborted()
		case r := <-ch:
			if r.Err != nil {
				return nil, r.Err
			}
			e = r.Val.(entry)
		}
	}

	return Filter(e.names, driToken), nil
}

// Filter keeps the names that carry driToken.
func Filter(names []string, driToken string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if dri.IsDriLabel(n, driToken) {
			out = append(out, n)
		}
	}
	return out
}

// Cached reports the repositories currently held, sorted.
func (c *Cache) Cached() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for r := range c.entries {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Invalidate drops repo's entry.
func (c *Cache) Invalidate(repo string) {
	c.mu.Lock()
	delete(c.entries, strings.TrimSpace(repo))
	c.mu.Unlock()
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.current = ""
	c.mu.Unlock()
}
