package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/dridash/internal/errors"
)

func TestAuthHeader(t *testing.T) {
	require.Equal(t, "", AuthHeader(""))
	require.Equal(t, "", AuthHeader("   "))
	require.Equal(t, "token ghp_abc", AuthHeader("ghp_abc"))
	require.Equal(t, "token gho_x", AuthHeader(" gho_x "))
	require.Equal(t, "Bearer github_pat_1", AuthHeader("github_pat_1"))
	require.Equal(t, "Bearer abc", AuthHeader("abc"))
}

func TestSearch_RequestShape(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_count": 2, "items": [
			{"id": 10, "number": 1, "title": "a", "html_url": "https://x/1", "user": {"login": "alice"},
			 "labels": [{"name": "DRI:@alice"}], "assignees": [{"login": "bob"}], "updated_at": "2024-01-02T00:00:00Z"},
			{"id": 11, "number": 2, "title": "b"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	res, err := c.Search(context.Background(), `repo:o/r is:pr label:"DRI:@a"`, "ghp_tok")
	require.NoError(t, err)

	require.Equal(t, "/search/issues", got.URL.Path)
	q := got.URL.Query()
	require.Equal(t, `repo:o/r is:pr label:"DRI:@a"`, q.Get("q"))
	require.Equal(t, "8", q.Get("per_page"))
	require.Equal(t, "updated", q.Get("sort"))
	require.Equal(t, "desc", q.Get("order"))
	require.Equal(t, "application/vnd.github+json", got.Header.Get("Accept"))
	require.Equal(t, APIVersion, got.Header.Get("X-GitHub-Api-Version"))
	require.Equal(t, "token ghp_tok", got.Header.Get("Authorization"))

	require.Equal(t, 2, res.TotalCount)
	require.Len(t, res.Items, 2)
	require.Equal(t, "alice", res.Items[0].AuthorLogin())
	require.Equal(t, []string{"DRI:@alice"}, res.Items[0].LabelNames())
	require.Equal(t, "bob", res.Items[0].Assignees[0].Login)
	require.Equal(t, "", res.Items[1].AuthorLogin())
}

func TestSearch_NoTokenNoAuthHeader(t *testing.T) {
	var hadAuth atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header["Authorization"]
		hadAuth.Store(ok)
		_, _ = w.Write([]byte(`{"total_count": 0}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).Search(context.Background(), "is:pr", "")
	require.NoError(t, err)
	require.False(t, hadAuth.Load())
	require.NotNil(t, res.Items)
	require.Empty(t, res.Items)
}

func TestSearch_ErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"nested errors first", 422, `{"message": "Validation Failed", "errors": [{"message": "bad q"}]}`, "GitHub search failed: 422 bad q"},
		{"top-level message", 403, `{"message": "API rate limit exceeded", "documentation_url": "https://docs"}`, "GitHub search failed: 403 API rate limit exceeded"},
		{"documentation url", 404, `{"documentation_url": "https://docs"}`, "GitHub search failed: 404 https://docs"},
		{"string body", 500, `"boom"`, "GitHub search failed: 500 boom"},
		{"html body", 502, `<html>bad gateway</html>`, "GitHub search failed: 502 Bad Gateway"},
		{"plain text body", 502, "upstream proxy\n  exploded\n", "GitHub search failed: 502 upstream proxy exploded"},
		{"empty body", 503, ``, "GitHub search failed: 503 Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Search(context.Background(), "x", "")
			require.Error(t, err)
			require.True(t, errors.Is(err, errors.ErrTransport))
			require.Equal(t, tt.want, errors.Message(err))

			var dErr *errors.DashError
			require.ErrorAs(t, err, &dErr)
			require.Equal(t, tt.status, dErr.Status)
		})
	}
}

func TestBestMessage_PlainTextCapped(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := bestMessage([]byte(long), 502, "text/plain; charset=utf-8")
	require.Equal(t, strings.Repeat("x", maxPlainMessage)+"…", got)

	require.Equal(t, "Bad Gateway", bestMessage([]byte("oops"), 502, "text/html"))
	require.Equal(t, "Bad Gateway", bestMessage([]byte("  "), 502, "text/plain"))
}

func TestSearch_Aborted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL).Search(ctx, "x", "")
	require.True(t, errors.Is(err, errors.ErrAborted))
	require.Equal(t, "Request aborted", errors.Message(err))
}

func TestLabels(t *testing.T) {
	var path string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.RequestURI()
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"name": "bug"}, {"name": "DRI:@alice"}, {"name": ""},
		})
	}))
	defer srv.Close()

	names, err := NewClient(srv.URL).Labels(context.Background(), "org/repo", "pat")
	require.NoError(t, err)
	require.Equal(t, []string{"bug", "DRI:@alice"}, names)
	require.Equal(t, "/repos/org/repo/labels?per_page=100", path)
	require.Equal(t, "Bearer pat", auth)
}

func TestLabels_NonArrayPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message": "weird"}`))
	}))
	defer srv.Close()

	names, err := NewClient(srv.URL).Labels(context.Background(), "org/repo", "")
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestLabels_InvalidRepoSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	for _, repo := range []string{"", "org", "org/repo/extra", "org /repo"} {
		_, err := NewClient(srv.URL).Labels(context.Background(), repo, "")
		require.True(t, errors.Is(err, errors.ErrInvalidRepo), repo)
	}
	require.Zero(t, calls.Load())
}

func TestLabels_ErrorPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Labels(context.Background(), "org/repo", "")
	require.Equal(t, "GitHub labels failed: 404 Not Found", errors.Message(err))
}
