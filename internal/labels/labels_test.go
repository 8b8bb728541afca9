package labels

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/dridash/internal/errors"
)

type stubFetcher struct {
	calls  map[string]int
	names  map[string][]string
	failOn map[string]error
}

func newStub() *stubFetcher {
	return &stubFetcher{calls: map[string]int{}, names: map[string][]string{}, failOn: map[string]error{}}
}

func (s *stubFetcher) Labels(_ context.Context, repo, _ string) ([]string, error) {
	s.calls[repo]++
	if err := s.failOn[repo]; err != nil {
		return nil, err
	}
	return s.names[repo], nil
}

func TestGet_FiltersAndCaches(t *testing.T) {
	f := newStub()
	f.names["org/repo"] = []string{"bug", "DRI:@alice", "dri:@bob", "Owner:carol"}

	c := NewCache()
	got, err := c.Get(context.Background(), "org/repo", "", "DRI:@", f)
	require.NoError(t, err)
	require.Equal(t, []string{"DRI:@alice", "dri:@bob"}, got)

	got, err = c.Get(context.Background(), "org/repo", "", "Owner:", f)
	require.NoError(t, err)
	require.Equal(t, []string{"Owner:carol"}, got)
	require.Equal(t, 1, f.calls["org/repo"])
}

func TestGet_TTL(t *testing.T) {
	f := newStub()
	f.names["org/repo"] = []string{"DRI:@a"}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache()
	c.Now = func() time.Time { return now }

	_, err := c.Get(context.Background(), "org/repo", "", "DRI:@", f)
	require.NoError(t, err)

	now = now.Add(23 * time.Hour)
	_, err = c.Get(context.Background(), "org/repo", "", "DRI:@", f)
	require.NoError(t, err)
	require.Equal(t, 1, f.calls["org/repo"])

	now = now.Add(2 * time.Hour)
	_, err = c.Get(context.Background(), "org/repo", "", "DRI:@", f)
	require.NoError(t, err)
	require.Equal(t, 2, f.calls["org/repo"])
}

func TestGet_RepoChangeInvalidates(t *testing.T) {
	f := newStub()
	f.names["a/one"] = []string{"DRI:@x"}
	f.names["b/two"] = []string{"DRI:@y"}

	c := NewCache()
	_, _ = c.Get(context.Background(), "a/one", "", "DRI:@", f)
	require.Equal(t, []string{"a/one"}, c.Cached())

	got, err := c.Get(context.Background(), "b/two", "", "DRI:@", f)
	require.NoError(t, err)
	require.Equal(t, []string{"DRI:@y"}, got)
	require.Equal(t, []string{"b/two"}, c.Cached())

	_, _ = c.Get(context.Background(), "a/one", "", "DRI:@", f)
	require.Equal(t, 2, f.calls["a/one"])
}

func TestGet_FailureKeepsPrevious(t *testing.T) {
	f := newStub()
	f.names["org/repo"] = []string{"DRI:@a"}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache()
	c.Now = func() time.Time { return now }
	_, err := c.Get(context.Background(), "org/repo", "", "DRI:@", f)
	require.NoError(t, err)

	now = now.Add(48 * time.Hour)
	f.failOn["org/repo"] = fmt.Errorf("boom")
	_, err = c.Get(context.Background(), "org/repo", "", "DRI:@", f)
	require.EqualError(t, err, "boom")
	require.Equal(t, []string{"org/repo"}, c.Cached())
}

func TestGet_InvalidRepo(t *testing.T) {
	f := newStub()
	_, err := NewCache().Get(context.Background(), "nope", "", "DRI:@", f)
	require.True(t, errors.Is(err, errors.ErrInvalidRepo))
	require.Empty(t, f.calls)
}

func TestInvalidateAndReset(t *testing.T) {
	f := newStub()
	f.names["org/repo"] = []string{"DRI:@a"}
	c := NewCache()

	_, _ = c.Get(context.Background(), "org/repo", "", "DRI:@", f)
	c.Invalidate("org/repo")
	require.Empty(t, c.Cached())

	_, _ = c.Get(context.Background(), "org/repo", "", "DRI:@", f)
	c.Reset()
	require.Empty(t, c.Cached())
	require.Equal(t, 2, f.calls["org/repo"])
}

func TestFilter_EmptyToken(t *testing.T) {
	require.Empty(t, Filter([]string{"DRI:@a"}, ""))
}

type blockingFetcher struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingFetcher) Labels(_ context.Context, _, _ string) ([]string, error) {
	b.calls.Add(1)
	<-b.release
	return []string{"DRI:@a"}, nil
}

func TestGet_ConcurrentMissesShareFetch(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{})}
	c := NewCache()

	var wg sync.WaitGroup
	results := make([][]string, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "org/repo", "", "DRI:@", f)
		}(i)
	}

	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()

	require.Equal(t, int32(1), f.calls.Load())
	for i, r := range results {
		require.NoError(t, errs[i])
		require.Equal(t, []string{"DRI:@a"}, r)
	}
}

type cancelAwareFetcher struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (f *cancelAwareFetcher) Labels(ctx context.Context, _, _ string) ([]string, error) {
	close(f.started)
	<-f.release
	f.ctxErr = ctx.Err()
	return []string{"DRI:@a"}, nil
}

func TestGet_CancelledCallerDoesNotAbortWaiters(t *testing.T) {
	f := &cancelAwareFetcher{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCache()

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "org/repo", "", "DRI:@", f)
		firstErr <- err
	}()
	<-f.started

	type result struct {
		names []string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		names, err := c.Get(context.Background(), "org/repo", "", "DRI:@", f)
		second <- result{names, err}
	}()

	cancel()
	err := <-firstErr
	require.True(t, errors.Is(err, errors.ErrAborted), "got %v", err)

	close(f.release)
	r := <-second
	require.NoError(t, r.err)
	require.Equal(t, []string{"DRI:@a"}, r.names)
	require.NoError(t, f.ctxErr)
	require.Equal(t, []string{"org/repo"}, c.Cached())
}
