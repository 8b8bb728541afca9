package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/dridash/internal/config"
	"github.com/hpungsan/dridash/internal/db"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/issue"
	"github.com/hpungsan/dridash/internal/ops"
	"github.com/hpungsan/dridash/internal/ratelimit"
)

type fakeClient struct {
	mu      sync.Mutex
	queries []string
	err     error
	items   []issue.Item
}

func (c *fakeClient) Search(ctx context.Context, q, token string) (*issue.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, q)
	if c.err != nil {
		return nil, c.err
	}
	return &issue.SearchResult{TotalCount: len(c.items), Items: c.items}, nil
}

func (c *fakeClient) Labels(ctx context.Context, repo, token string) ([]string, error) {
	return []string{"DRI:@alice", "DRI:@bob"}, nil
}

func (c *fakeClient) searched() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

// testSetup creates a session over a temporary database.
func testSetup(t *testing.T) (*ops.Session, *config.Config, *fakeClient) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true

	client := &fakeClient{items: []issue.Item{sampleItem()}}
	lim := ratelimit.New()
	lim.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	session, err := ops.NewSession(ops.Deps{DB: database, Config: cfg, Client: client, Limiter: lim})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session, cfg, client
}

func sampleItem() issue.Item {
	return issue.Item{
		ID:        101,
		Number:    7,
		Title:     "Fix flaky login",
		HTMLURL:   "https://github.com/acme/web/pull/7",
		User:      &issue.User{Login: "alice"},
		Labels:    []issue.Label{{Name: "DRI:@alice"}},
		Assignees: []issue.User{{Login: "bob"}},
		UpdatedAt: "2024-05-01T12:00:00Z",
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleBuildQueries(t *testing.T) {
	session, _, _ := testSetup(t)
	h := NewHandlers(session)

	t.Run("with repo override", func(t *testing.T) {
		result, err := h.HandleBuildQueries(context.Background(), makeRequest(map[string]any{
			"repo":   "acme/web",
			"handle": "carol",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := parseOutput(t, result)

		snap := output["settings"].(map[string]any)
		if snap["handle"] != "@carol" {
			t.Errorf("handle = %v, want @carol", snap["handle"])
		}
		queries := output["queries"].([]any)
		if len(queries) == 0 {
			t.Fatal("expected card queries")
		}
		for _, q := range queries {
			text := q.(map[string]any)["query"].(string)
			if !strings.Contains(text, "repo:acme/web") {
				t.Errorf("query %q missing repo qualifier", text)
			}
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		result, _ := h.HandleBuildQueries(context.Background(), makeRequest(map[string]any{
			"use_body_text": "sometimes",
		}))
		if !result.IsError {
			t.Fatal("expected error result")
		}
		assertErrorCode(t, result, "INVALID_REQUEST")
	})
}

func TestHandleClassifyItem(t *testing.T) {
	session, _, _ := testSetup(t)
	h := NewHandlers(session)

	item := map[string]any{
		"id":        101,
		"number":    7,
		"title":     "Fix flaky login",
		"user":      map[string]any{"login": "alice"},
		"labels":    []any{map[string]any{"name": "DRI:@alice"}},
		"assignees": []any{map[string]any{"login": "bob"}},
	}

	t.Run("author is dri", func(t *testing.T) {
		result, err := h.HandleClassifyItem(context.Background(), makeRequest(map[string]any{
			"item":   item,
			"handle": "bob",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := parseOutput(t, result)

		d := output["dri"].(map[string]any)
		if d["handle"] != "@alice" || d["role"] != "code" {
			t.Errorf("dri = %v, want @alice/code", d)
		}
		if output["found"] != true {
			t.Error("found should be true")
		}
		if output["dri_line"] != "DRI (coder): @alice" {
			t.Errorf("dri_line = %v", output["dri_line"])
		}
		if output["coder"] != "@alice" {
			t.Errorf("coder = %v, want @alice", output["coder"])
		}
		if output["assignee"] != "Assignee: you (reviewing) (pls review)" {
			t.Errorf("assignee = %v", output["assignee"])
		}
		if _, ok := output["lines"]; ok {
			t.Error("lines should be omitted without card_id")
		}
	})

	t.Run("no dri", func(t *testing.T) {
		result, _ := h.HandleClassifyItem(context.Background(), makeRequest(map[string]any{
			"item": map[string]any{"id": 5, "user": map[string]any{"login": "dave"}},
		}))
		output := parseOutput(t, result)
		if output["found"] != false {
			t.Error("found should be false")
		}
		if d := output["dri"].(map[string]any); d["handle"] != "not found" {
			t.Errorf("handle = %v, want not found", d["handle"])
		}
		if _, ok := output["dri_line"]; ok {
			t.Error("dri_line should be omitted when no DRI")
		}
	})

	t.Run("with card", func(t *testing.T) {
		result, _ := h.HandleClassifyItem(context.Background(), makeRequest(map[string]any{
			"item":    item,
			"card_id": "prs-dri-others",
			"repo":    "acme/web",
		}))
		output := parseOutput(t, result)
		if _, ok := output["meta"]; !ok {
			t.Error("expected meta line for card")
		}
	})

	t.Run("unknown card", func(t *testing.T) {
		result, _ := h.HandleClassifyItem(context.Background(), makeRequest(map[string]any{
			"item":    item,
			"card_id": "nope",
		}))
		if !result.IsError {
			t.Fatal("expected error result")
		}
		assertErrorCode(t, result, "NOT_FOUND")
	})
}

func TestHandleRefreshCard(t *testing.T) {
	session, _, client := testSetup(t)
	h := NewHandlers(session)

	t.Run("success", func(t *testing.T) {
		result, err := h.HandleRefreshCard(context.Background(), makeRequest(map[string]any{
			"id":   "prs-mine",
			"repo": "acme/web",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := parseOutput(t, result)
		if output["total_count"] != float64(1) {
			t.Errorf("total_count = %v, want 1", output["total_count"])
		}
		items := output["items"].([]any)
		if len(items) != 1 {
			t.Fatalf("items = %d, want 1", len(items))
		}
		if items[0].(map[string]any)["note_key"] != "acme/web#101" {
			t.Errorf("note_key = %v", items[0].(map[string]any)["note_key"])
		}
	})

	t.Run("missing id", func(t *testing.T) {
		result, _ := h.HandleRefreshCard(context.Background(), makeRequest(map[string]any{"repo": "acme/web"}))
		assertErrorCode(t, result, "INVALID_REQUEST")
	})

	t.Run("invalid repo", func(t *testing.T) {
		before := client.searched()
		result, _ := h.HandleRefreshCard(context.Background(), makeRequest(map[string]any{
			"id":   "prs-mine",
			"repo": "not-a-repo",
		}))
		assertErrorCode(t, result, "INVALID_REPO")
		if client.searched() != before {
			t.Error("no search should be issued for an invalid repo")
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		client.mu.Lock()
		client.err = errors.NewTransport(503, "GitHub search failed: 503")
		client.mu.Unlock()
		defer func() {
			client.mu.Lock()
			client.err = nil
			client.mu.Unlock()
		}()

		result, _ := h.HandleRefreshCard(context.Background(), makeRequest(map[string]any{
			"id":   "prs-mine",
			"repo": "acme/web",
		}))
		assertErrorCode(t, result, "TRANSPORT")
	})
}

func TestHandleRefreshSection(t *testing.T) {
	session, _, _ := testSetup(t)
	h := NewHandlers(session)

	t.Run("success", func(t *testing.T) {
		result, err := h.HandleRefreshSection(context.Background(), makeRequest(map[string]any{
			"section": "issues",
			"repo":    "acme/web",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := parseOutput(t, result)
		if output["section"] != "issues" {
			t.Errorf("section = %v", output["section"])
		}
		if output["errors"] != float64(0) {
			t.Errorf("errors = %v, want 0", output["errors"])
		}
		if output["run_id"] == "" {
			t.Error("expected run_id")
		}
	})

	t.Run("missing section", func(t *testing.T) {
		result, _ := h.HandleRefreshSection(context.Background(), makeRequest(map[string]any{}))
		assertErrorCode(t, result, "INVALID_REQUEST")
	})

	t.Run("unknown section", func(t *testing.T) {
		result, _ := h.HandleRefreshSection(context.Background(), makeRequest(map[string]any{
			"section": "archive",
			"repo":    "acme/web",
		}))
		assertErrorCode(t, result, "NOT_FOUND")
	})
}

func TestHandleCards(t *testing.T) {
	session, _, _ := testSetup(t)
	h := NewHandlers(session)

	result, err := h.HandleCards(context.Background(), makeRequest(map[string]any{"repo": "acme/web"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)

	sections := output["sections"].([]any)
	if len(sections) != 3 {
		t.Fatalf("sections = %d, want 3", len(sections))
	}
	locked := output["locked"].([]any)
	if len(locked) != 1 || locked[0] != "repo" {
		t.Errorf("locked = %v, want [repo]", locked)
	}
}

func TestHandleSetNote(t *testing.T) {
	session, _, _ := testSetup(t)
	h := NewHandlers(session)

	result, err := h.HandleSetNote(context.Background(), makeRequest(map[string]any{
		"key":    "acme/web#101",
		"text":   "waiting on design",
		"is_red": true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)
	if output["deleted"] != false {
		t.Error("note should not be deleted")
	}
	if got := session.Note("acme/web#101"); got.Text != "waiting on design" || !got.IsRed {
		t.Errorf("stored note = %+v", got)
	}

	result, _ = h.HandleSetNote(context.Background(), makeRequest(map[string]any{"key": "acme/web#101"}))
	output = parseOutput(t, result)
	if output["deleted"] != true {
		t.Error("empty note should be deleted")
	}

	result, _ = h.HandleSetNote(context.Background(), makeRequest(map[string]any{"key": " "}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleSettings(t *testing.T) {
	session, _, _ := testSetup(t)
	h := NewHandlers(session)

	result, err := h.HandleSettings(context.Background(), makeRequest(map[string]any{
		"repo":  "acme/web",
		"token": "ghp_secret",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)
	if output["has_token"] != true {
		t.Error("has_token should be true")
	}
	if output["repo_ok"] != true {
		t.Error("repo_ok should be true")
	}
	saved := output["saved"].(map[string]any)
	if saved["token"] != "(set)" {
		t.Errorf("saved token = %v, want redacted", saved["token"])
	}
	if strings.Contains(extractText(result), "ghp_secret") {
		t.Error("token leaked into output")
	}
	if session.Saved().Repo != "acme/web" {
		t.Errorf("persisted repo = %q", session.Saved().Repo)
	}

	result, _ = h.HandleSettings(context.Background(), makeRequest(map[string]any{"clear_token": true}))
	output = parseOutput(t, result)
	if output["has_token"] != false {
		t.Error("token should be cleared")
	}
}

func TestHandleSettings_Reset(t *testing.T) {
	session, _, _ := testSetup(t)
	h := NewHandlers(session)

	mustCall(t, h.HandleSettings, map[string]any{"repo": "acme/web", "dri_token": "OWNER:"})

	result := mustCall(t, h.HandleSettings, map[string]any{"reset": []any{"repo", "dri_token"}})
	snap := parseOutput(t, result)["settings"].(map[string]any)
	if snap["repo"] != "" || snap["dri_token"] != "DRI:@" {
		t.Errorf("expected defaults after reset, got %v", snap)
	}
	if saved := session.Saved(); saved.Repo != "" || saved.Dri != "" {
		t.Errorf("saved = %+v, want repo and dri cleared", saved)
	}

	result, err := h.HandleSettings(context.Background(), makeRequest(map[string]any{"reset": []any{"token"}}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleRuns(t *testing.T) {
	session, _, _ := testSetup(t)
	h := NewHandlers(session)

	for _, id := range []string{"prs-mine", "issues-mine"} {
		r, _ := h.HandleRefreshCard(context.Background(), makeRequest(map[string]any{"id": id, "repo": "acme/web"}))
		parseOutput(t, r)
	}

	result, err := h.HandleRuns(context.Background(), makeRequest(map[string]any{"limit": 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)
	runs := output["runs"].([]any)
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
}

func TestHandleNotesExportImport(t *testing.T) {
	session, _, _ := testSetup(t)
	h := NewHandlers(session)

	parseOutput(t, mustCall(t, h.HandleSetNote, map[string]any{"key": "acme/web#1", "text": "one"}))
	parseOutput(t, mustCall(t, h.HandleSetNote, map[string]any{"key": "acme/web#2", "text": "two", "is_red": true}))

	path := filepath.Join(t.TempDir(), "notes.jsonl")
	output := parseOutput(t, mustCall(t, h.HandleNotesExport, map[string]any{"path": path}))
	if output["count"] != float64(2) {
		t.Errorf("count = %v, want 2", output["count"])
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("export file missing: %v", err)
	}

	other, _, _ := testSetup(t)
	h2 := NewHandlers(other)
	output = parseOutput(t, mustCall(t, h2.HandleNotesImport, map[string]any{"path": path}))
	if output["imported"] != float64(2) {
		t.Errorf("imported = %v, want 2", output["imported"])
	}
	if got := other.Note("acme/web#2"); got.Text != "two" || !got.IsRed {
		t.Errorf("imported note = %+v", got)
	}

	output = parseOutput(t, mustCall(t, h2.HandleNotesImport, map[string]any{"path": path, "mode": "keep"}))
	if output["skipped"] != float64(2) {
		t.Errorf("skipped = %v, want 2", output["skipped"])
	}

	result := mustCall(t, h2.HandleNotesImport, map[string]any{"path": path, "mode": "merge"})
	assertErrorCode(t, result, "INVALID_REQUEST")

	result = mustCall(t, h2.HandleNotesImport, map[string]any{"path": filepath.Join(t.TempDir(), "missing.jsonl")})
	assertErrorCode(t, result, "FILE_NOT_FOUND")
}

func TestServerRegistration(t *testing.T) {
	session, cfg, _ := testSetup(t)

	s := NewServer(session, cfg, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"dash_build_queries",
		"dash_classify_item",
		"dash_refresh_card",
		"dash_refresh_section",
		"dash_cards",
		"dash_set_note",
		"dash_settings",
		"dash_runs",
		"dash_notes_export",
		"dash_notes_import",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	session, cfg, _ := testSetup(t)

	cfg.DisabledTools = []string{"dash_notes_import", "dash_settings"}
	tools := NewServer(session, cfg, "test").ListTools()

	if len(tools) != 8 {
		t.Errorf("registered tool count = %d, want 8", len(tools))
	}
	for _, name := range cfg.DisabledTools {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
	if _, ok := tools["dash_cards"]; !ok {
		t.Error("dash_cards should be registered")
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	session, cfg, _ := testSetup(t)

	cfg.DisabledTools = AllToolNames()
	if tools := NewServer(session, cfg, "test").ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"dash_settings", "dash_notes_import"}, 0},
		{"one unknown", []string{"dash_settings", "purge"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unknown := ValidateDisabledTools(tt.input); len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools(%v) = %v, want %d unknown", tt.input, unknown, tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != 10 {
		t.Errorf("AllToolNames() returned %d names, want 10", len(names))
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}
	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom at /var/secret")))
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want INTERNAL", errObj["code"])
	}
	if strings.Contains(errObj["message"].(string), "secret") {
		t.Errorf("message leaks cause: %v", errObj["message"])
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrapped := fmt.Errorf("card prs-mine: %w", errors.NewInvalidRepo("nope"))

	errObj := errorObject(t, errorResult(wrapped))
	if errObj["code"] != string(errors.ErrInvalidRepo) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrInvalidRepo)
	}
	msg := errObj["message"].(string)
	if !strings.HasPrefix(msg, "card prs-mine: ") {
		t.Errorf("message should keep wrapper context, got: %s", msg)
	}
	if strings.Contains(msg, "INVALID_REPO:") {
		t.Errorf("message should not repeat the code, got: %s", msg)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewNotFound("card", "abc")))
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

// Helper functions

func mustCall(t *testing.T, fn func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := fn(context.Background(), makeRequest(args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(extractText(result)), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(extractText(result)), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in payload: %v", payload)
	}
	return errObj
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()
	if !result.IsError {
		t.Fatalf("expected error %s, got success: %s", expectedCode, extractText(result))
	}
	if code := errorObject(t, result)["code"]; code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}
	return text.Text
}
