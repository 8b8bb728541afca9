package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/dri"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/issue"
	"github.com/hpungsan/dridash/internal/notes"
	"github.com/hpungsan/dridash/internal/ops"
	"github.com/hpungsan/dridash/internal/settings"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	session *ops.Session
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(session *ops.Session) *Handlers {
	return &Handlers{session: session}
}

// SettingsArgs are the per-call settings overrides.
type SettingsArgs struct {
	Repo           string `json:"repo,omitempty"`
	DriToken       string `json:"dri_token,omitempty"`
	Handle         string `json:"handle,omitempty"`
	CoderBodyFlag  string `json:"coder_body_flag,omitempty"`
	CoderLabelFlag string `json:"coder_label_flag,omitempty"`
	UseBodyText    *bool  `json:"use_body_text,omitempty"`
}

func (a SettingsArgs) partial() settings.Partial {
	p := settings.Partial{
		Repo:           strings.TrimSpace(a.Repo),
		DriToken:       strings.TrimSpace(a.DriToken),
		CoderBodyFlag:  strings.TrimSpace(a.CoderBodyFlag),
		CoderLabelFlag: strings.TrimSpace(a.CoderLabelFlag),
		UseBodyText:    a.UseBodyText,
	}
	if strings.TrimSpace(a.Handle) != "" {
		p.Handle = settings.NormalizeHandle(a.Handle, "")
	}
	return p
}

// ClassifyRequest represents the arguments for dash_classify_item.
type ClassifyRequest struct {
	SettingsArgs
	Item   issue.Item `json:"item"`
	CardID string     `json:"card_id,omitempty"`
}

// ClassifyOutput is the result of dash_classify_item.
type ClassifyOutput struct {
	DRI       dri.Result `json:"dri"`
	Found     bool       `json:"found"`
	DriLine   string     `json:"dri_line,omitempty"`
	AuthorMIA bool       `json:"author_mia"`
	Coder     string     `json:"coder"`
	Assignee  string     `json:"assignee"`
	Lines     []string   `json:"lines,omitempty"`
	Meta      string     `json:"meta,omitempty"`
}

// RefreshCardRequest represents the arguments for dash_refresh_card.
type RefreshCardRequest struct {
	SettingsArgs
	ID string `json:"id"`
}

// RefreshSectionRequest represents the arguments for dash_refresh_section.
type RefreshSectionRequest struct {
	SettingsArgs
	Section string `json:"section"`
}

// SetNoteRequest represents the arguments for dash_set_note.
type SetNoteRequest struct {
	Key   string `json:"key"`
	Text  string `json:"text,omitempty"`
	IsRed bool   `json:"is_red,omitempty"`
}

// SettingsRequest represents the arguments for dash_settings.
type SettingsRequest struct {
	SettingsArgs
	Token      string   `json:"token,omitempty"`
	ClearToken bool     `json:"clear_token,omitempty"`
	Reset      []string `json:"reset,omitempty"`
}

// RunsRequest represents the arguments for dash_runs.
type RunsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// NotesExportRequest represents the arguments for dash_notes_export.
type NotesExportRequest struct {
	Path string `json:"path,omitempty"`
}

// NotesImportRequest represents the arguments for dash_notes_import.
type NotesImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// HandleBuildQueries handles the dash_build_queries tool call.
func (h *Handlers) HandleBuildQueries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsArgs](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	snap := h.session.Apply(input.partial(), settings.Inputs{})

	result, err := h.session.QueriesFor(ctx, snap)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleClassifyItem handles the dash_classify_item tool call.
func (h *Handlers) HandleClassifyItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClassifyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	snap := h.session.Apply(input.partial(), settings.Inputs{})

	opts := dri.OptionsFrom(snap)
	d := dri.Extract(input.Item, opts)
	out := ClassifyOutput{
		DRI:       d,
		Found:     d.Found(),
		AuthorMIA: dri.IsAuthorMIA(input.Item, opts),
		Coder:     dri.ResolveCoderHandle(input.Item, d, opts),
		Assignee:  dri.FormatAssignee(input.Item, d, snap, dri.AssigneeOptions{IncludeActionForYou: true}),
	}
	out.DriLine, _ = dri.Format(d, snap.Handle)

	if input.CardID != "" {
		card, ok := catalog.Lookup(input.CardID)
		if !ok {
			return errorResult(errors.NewNotFound("card", input.CardID)), nil
		}
		note := h.session.Note(notes.Key(snap.Repo, input.Item.ID))
		v := ops.BuildItemView(card, input.Item, snap, note)
		out.Lines = v.Lines
		out.Meta = v.Meta
	}
	return successResult(out)
}

// HandleRefreshCard handles the dash_refresh_card tool call.
func (h *Handlers) HandleRefreshCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RefreshCardRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}
	snap := h.session.Apply(input.partial(), settings.Inputs{})

	result, err := h.session.RefreshCardFor(ctx, snap, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRefreshSection handles the dash_refresh_section tool call.
func (h *Handlers) HandleRefreshSection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RefreshSectionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Section == "" {
		return errorResult(errors.NewInvalidRequest("section is required")), nil
	}
	snap := h.session.Apply(input.partial(), settings.Inputs{})

	report, err := h.session.RefreshSectionFor(ctx, snap, input.Section)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(report)
}

// HandleCards handles the dash_cards tool call.
func (h *Handlers) HandleCards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsArgs](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	overrides := input.partial()
	snap := h.session.Apply(overrides, settings.Inputs{})

	d, err := h.session.DashboardFor(ctx, snap, overrides.Locked())
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(d)
}

// HandleSetNote handles the dash_set_note tool call.
func (h *Handlers) HandleSetNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SetNoteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	entry, err := h.session.SetNote(ops.SetNoteInput{Key: input.Key, Text: input.Text, IsRed: input.IsRed}, nil)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"key": strings.TrimSpace(input.Key), "note": entry, "deleted": entry.Empty()})
}

// HandleSettings handles the dash_settings tool call.
func (h *Handlers) HandleSettings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if bad := settings.ValidateReset(input.Reset); bad != "" {
		return errorResult(errors.NewInvalidRequest("unknown settings field: " + bad)), nil
	}
	snap := h.session.Apply(settings.Partial{}, settings.Inputs{
		Partial:    input.partial(),
		Reset:      input.Reset,
		Token:      input.Token,
		ClearToken: input.ClearToken,
	})
	return successResult(map[string]any{
		"settings":  snap,
		"has_token": snap.HasToken(),
		"saved":     h.session.Saved(),
		"repo_ok":   snap.RepoValid(),
	})
}

// HandleRuns handles the dash_runs tool call.
func (h *Handlers) HandleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RunsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	runs, err := h.session.Runs(input.Limit)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"runs": runs})
}

// HandleNotesExport handles the dash_notes_export tool call.
func (h *Handlers) HandleNotesExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NotesExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := h.session.ExportNotes(ctx, ops.ExportNotesInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleNotesImport handles the dash_notes_import tool call.
func (h *Handlers) HandleNotesImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NotesImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := h.session.ImportNotes(ctx, ops.ImportNotesInput{Path: input.Path, Mode: ops.ImportMode(input.Mode)})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// decode round-trips the request arguments through JSON into T.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("invalid arguments: %w", err)
	}
	return out, nil
}

// errorResult builds an IsError result carrying {error:{code,message,status}}.
// Details are omitted for INTERNAL errors.
func errorResult(err error) *mcp.CallToolResult {
	var dErr *errors.DashError
	if !stderrors.As(err, &dErr) {
		dErr = &errors.DashError{Code: errors.ErrInternal, Status: 500, Message: "an internal error occurred"}
	}

	message := dErr.Message
	if err != error(dErr) {
		// Keep wrapper context such as "card x: ".
		if prefix := strings.TrimSuffix(err.Error(), dErr.Error()); prefix != err.Error() {
			message = prefix + dErr.Message
		}
	}

	errorObj := map[string]any{
		"code":    dErr.Code,
		"message": message,
		"status":  dErr.Status,
	}
	if dErr.Code != errors.ErrInternal && dErr.Details != nil {
		errorObj["details"] = dErr.Details
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
