// Package ratelimit spaces out search calls: a reactive minimum gap for
// unauthenticated calls plus a fixed courtesy pause between section cards.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/dridash/internal/catalog"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Limiter tracks the last fetch time. It is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	lastFetchAt time.Time

	// Now and Sleep are replaceable for tests.
	Now   func() time.Time
	Sleep SleepFunc

	// MinGap is the unauthenticated minimum spacing; CourtesyAuthed and
	// CourtesyAnon are the inter-card pauses.
	MinGap         time.Duration
	CourtesyAuthed time.Duration
	CourtesyAnon   time.Duration
}

// New returns a Limiter using the wall clock and the catalog delays.
func New() *Limiter {
	return &Limiter{
		Now:            time.Now,
		Sleep:          Sleep,
		MinGap:         catalog.NoTokenDelay,
		CourtesyAuthed: catalog.SearchDelay,
		CourtesyAnon:   catalog.NoTokenDelay,
	}
}

// Sleep waits for d, returning ctx.Err() if the context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until an unauthenticated call is allowed. With a token it
// returns immediately.
func (l *Limiter) Wait(ctx context.Context, token string) error {
	if strings.TrimSpace(token) != "" {
		return nil
	}
	wait := l.Remaining()
	if wait <= 0 {
		return nil
	}
	return l.Sleep(ctx, wait)
}

// Remaining reports how long an unauthenticated call still has to wait.
func (l *Limiter) Remaining() time.Duration {
	l.mu.Lock()
	last := l.lastFetchAt
	l.mu.Unlock()
	if last.IsZero() {
		return 0
	}
	wait := l.MinGap - l.Now().Sub(last)
	if wait < 0 {
		return 0
	}
	return wait
}

// MarkFetched records now as the last fetch time. Call it immediately
// before issuing a request.
func (l *Limiter) MarkFetched() {
	now := l.Now()
	l.mu.Lock()
	l.lastFetchAt = now
	l.mu.Unlock()
}

// LastFetchAt returns the recorded fetch time (zero before the first call).
func (l *Limiter) LastFetchAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastFetchAt
}

// Courtesy returns the inter-card pause for the token state.
func (l *Limiter) Courtesy(token string) time.Duration {
	if strings.TrimSpace(token) != "" {
		return l.CourtesyAuthed
	}
	return l.CourtesyAnon
}

// Pause sleeps the courtesy delay regardless of the reactive limiter.
func (l *Limiter) Pause(ctx context.Context, token string) error {
	return l.Sleep(ctx, l.Courtesy(token))
}
