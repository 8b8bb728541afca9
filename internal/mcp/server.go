package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/dridash/internal/config"
	"github.com/hpungsan/dridash/internal/ops"
)

type toolEntry struct {
	def     func() mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	"dash_build_queries": {
		def:     buildQueriesTool,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBuildQueries },
	},
	"dash_classify_item": {
		def:     classifyItemTool,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleClassifyItem },
	},
	"dash_refresh_card": {
		def:     refreshCardTool,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRefreshCard },
	},
	"dash_refresh_section": {
		def:     refreshSectionTool,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRefreshSection },
	},
	"dash_cards": {
		def:     cardsTool,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCards },
	},
	"dash_set_note": {
		def:     setNoteTool,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSetNote },
	},
	"dash_settings": {
		def:     settingsTool,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettings },
	},
	"dash_runs": {
		def:     runsTool,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRuns },
	},
	"dash_notes_export": {
		def:     notesExportTool,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNotesExport },
	},
	"dash_notes_import": {
		def:     notesImportTool,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNotesImport },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns the names that are not registered tools.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server exposing the dashboard tools, minus the
// ones listed in cfg.DisabledTools.
func NewServer(session *ops.Session, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"dridash",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(session)

	disabled := make(map[string]bool)
	if cfg != nil {
		for _, name := range cfg.DisabledTools {
			disabled[name] = true
		}
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def(), entry.handler(h))
	}
	return s
}

// Run serves the MCP tools over stdio.
func Run(session *ops.Session, cfg *config.Config, version string) error {
	return server.ServeStdio(NewServer(session, cfg, version))
}
