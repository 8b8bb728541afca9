package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/dridash/internal/settings"
)

// settingsOptions are the override arguments shared by every tool that
// builds queries. Provided values lock the field for the call and are not
// persisted.
func settingsOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("repo", mcp.Description("Repository as owner/repo")),
		mcp.WithString("dri_token", mcp.Description(`DRI token prefix (default "DRI:@")`)),
		mcp.WithString("handle", mcp.Description(`Your handle (default "@me")`)),
		mcp.WithString("coder_body_flag", mcp.Description(`Body flag marking the DRI as coder (default "coder")`)),
		mcp.WithString("coder_label_flag", mcp.Description(`Label marking the author as MIA (default "op_mia")`)),
		mcp.WithBoolean("use_body_text", mcp.Description("Source DRI from item bodies instead of labels")),
	}
}

func newTool(name, desc string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(desc)}, opts...)...)
}

func buildQueriesTool() mcp.Tool {
	return newTool("dash_build_queries",
		"Build the search query and web link of every dashboard card. Fetches the repository's DRI labels when a label-sourced card needs them.",
		settingsOptions()...)
}

func classifyItemTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithObject("item", mcp.Required(),
			mcp.Description("Issue or pull request as returned by the search API (title, body, user, labels, assignees)")),
		mcp.WithString("card_id", mcp.Description("Card whose display lines to derive")),
	}, settingsOptions()...)
	return newTool("dash_classify_item",
		"Identify an item's DRI and whether they are coding or reviewing. No network access.",
		opts...)
}

func refreshCardTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithString("id", mcp.Required(), mcp.Description("Card id, e.g. prs-dri-me")),
	}, settingsOptions()...)
	return newTool("dash_refresh_card", "Run one card's search and update the card cache.", opts...)
}

func refreshSectionTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithString("section", mcp.Required(), mcp.Description("Section name"), mcp.Enum("pulls", "triage", "issues")),
	}, settingsOptions()...)
	return newTool("dash_refresh_section",
		"Refresh every card of a section in order, pausing between searches. Card failures are reported per card.",
		opts...)
}

func cardsTool() mcp.Tool {
	return newTool("dash_cards",
		"Return every section with its cards, built queries and cached results. No searches are run.",
		settingsOptions()...)
}

func setNoteTool() mcp.Tool {
	return newTool("dash_set_note", "Store the note attached to an item. Empty text with is_red false deletes it.",
		mcp.WithString("key", mcp.Required(), mcp.Description("Note key, owner/repo#itemID")),
		mcp.WithString("text", mcp.Description("Note text (at most 120 characters kept)")),
		mcp.WithBoolean("is_red", mcp.Description("Highlight the note")),
	)
}

func settingsTool() mcp.Tool {
	opts := append(settingsOptions(),
		mcp.WithString("token", mcp.Description("API token to store")),
		mcp.WithBoolean("clear_token", mcp.Description("Forget the stored token")),
		mcp.WithArray("reset",
			mcp.Description("Fields whose stored value is dropped so the default applies again"),
			mcp.Items(map[string]any{"type": "string", "enum": settings.Fields})),
	)
	return newTool("dash_settings",
		"Update and persist settings. Call without arguments to read the current settings.",
		opts...)
}

func runsTool() mcp.Tool {
	return newTool("dash_runs", "List recent refresh runs, newest first.",
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
	)
}

func notesExportTool() mcp.Tool {
	return newTool("dash_notes_export", "Export every note to a JSONL file.",
		mcp.WithString("path", mcp.Description("Destination .jsonl file (default ~/.dridash/exports/<scope>-<timestamp>.jsonl)")),
	)
}

func notesImportTool() mcp.Tool {
	return newTool("dash_notes_import", "Merge notes from a JSONL export file.",
		mcp.WithString("path", mcp.Required(), mcp.Description("Source .jsonl file")),
		mcp.WithString("mode", mcp.Description("replace (default) or keep"), mcp.Enum("replace", "keep")),
	)
}
