// Package github talks to the hosting platform's REST API: issue search and
// the repository label catalog.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/issue"
	"github.com/hpungsan/dridash/internal/settings"
)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.github.com"
	DefaultTimeout = 30 * time.Second
	APIVersion     = "2022-11-28"

	labelsPerPage   = 100
	maxErrorBody    = 64 << 10
	maxPlainMessage = 200
)

// Client issues search and label requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a client for the API at baseURL ("" means DefaultBaseURL).
func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AuthHeader returns the Authorization value for token: "token <t>" for
// classic-format tokens (gh-prefixed), "Bearer <t>" otherwise, "" without a token.
func AuthHeader(token string) string {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return ""
	case strings.HasPrefix(token, "gh"):
		return "token " + token
	default:
		return "Bearer " + token
	}
}

// Search runs query against the issue search endpoint and returns the first
// page, newest updates first.
func (c *Client) Search(ctx context.Context, query, token string) (*issue.SearchResult, error) {
	v := url.Values{}
	v.Set("q", query)
	v.Set("per_page", strconv.Itoa(catalog.SearchPerPage))
	v.Set("sort", "updated")
	v.Set("order", "desc")

	body, err := c.get(ctx, "/search/issues?"+v.Encode(), token, "GitHub search failed")
	if err != nil {
		return nil, err
	}

	var res issue.SearchResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("decode search response: %w", err))
	}
	if res.Items == nil {
		res.Items = []issue.Item{}
	}
	return &res, nil
}

// Labels returns every label name of repo (first page of 100). A payload
// that is not an array yields an empty list.
func (c *Client) Labels(ctx context.Context, repo, token string) ([]string, error) {
	repo = strings.TrimSpace(repo)
	if !settings.ValidRepo(repo) {
		return nil, errors.NewInvalidRepo(repo)
	}
	owner, name, _ := strings.Cut(repo, "/")
	path := fmt.Sprintf("/repos/%s/%s/labels?per_page=%d",
		url.PathEscape(owner), url.PathEscape(name), labelsPerPage)

	body, err := c.get(ctx, path, token, "GitHub labels failed")
	if err != nil {
		return nil, err
	}

	var raw []issue.Label
	if err := json.Unmarshal(body, &raw); err != nil {
		return []string{}, nil
	}
	names := make([]string, 0, len(raw))
	for _, l := range raw {
		if l.Name != "" {
			names = append(names, l.Name)
		}
	}
	return names, nil
}

func (c *Client) get(ctx context.Context, path, token, failPrefix string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", APIVersion)
	if auth := AuthHeader(token); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewAborted()
		}
		return nil, errors.NewTransport(http.StatusBadGateway, fmt.Sprintf("%s: %v", failPrefix, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		best := bestMessage(raw, resp.StatusCode, resp.Header.Get("Content-Type"))
		msg := fmt.Sprintf("%s: %d %s", failPrefix, resp.StatusCode, best)
		return nil, errors.NewTransport(resp.StatusCode, strings.TrimSpace(msg))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewAborted()
		}
		return nil, errors.NewTransport(http.StatusBadGateway, fmt.Sprintf("%s: read body: %v", failPrefix, err))
	}
	return body, nil
}

type errorPayload struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
	Errors           []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// bestMessage picks, in order: the first nested error message, the top-level
// message, the documentation URL, a bare string body, the status text. A
// text/plain body counts as a bare string, trimmed to maxPlainMessage runes.
func bestMessage(raw []byte, status int, contentType string) string {
	statusText := http.StatusText(status)

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s != "" {
			return s
		}
		return statusText
	}

	var p errorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		if plain := plainMessage(raw, contentType); plain != "" {
			return plain
		}
		return statusText
	}
	if len(p.Errors) > 0 && p.Errors[0].Message != "" {
		return p.Errors[0].Message
	}
	if p.Message != "" {
		return p.Message
	}
	if p.DocumentationURL != "" {
		return p.DocumentationURL
	}
	return statusText
}

// plainMessage returns a text/plain body on one line, capped at
// maxPlainMessage runes, or "" for any other content type.
func plainMessage(raw []byte, contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt != "text/plain" {
		return ""
	}
	msg := strings.Join(strings.Fields(string(raw)), " ")
	if r := []rune(msg); len(r) > maxPlainMessage {
		msg = string(r[:maxPlainMessage]) + "…"
	}
	return msg
}
