// Package query expands card templates into search query strings.
package query

import (
	"net/url"
	"strings"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/settings"
)

// Template placeholders.
const (
	PlaceholderLabelsOr   = "__DRI_LABELS_OR__"
	PlaceholderLabelsNot  = "__DRI_LABELS_NOT__"
	PlaceholderDriHandle  = "__DRI_HANDLE__"
	PlaceholderHandle     = "__HANDLE__"
	PlaceholderHandleBare = "__HANDLE_BARE__"
	PlaceholderDri        = "__DRI__"
)

// Options carries the inputs that are not part of the settings snapshot.
type Options struct {
	// DriLabels is the repository's DRI label set. Nil and empty both mean
	// no candidates.
	DriLabels []string
}

// Mode is the sourcing strategy of a selected template.
type Mode int

const (
	ModeNone Mode = iota
	ModeLabels
	ModeBody
)

// Select picks the card template for the snapshot: the preferred one when
// present, else whichever is non-empty.
func Select(card catalog.Card, s settings.Snapshot) (string, Mode) {
	labels := strings.TrimSpace(card.QueryUsingLabels)
	body := strings.TrimSpace(card.QueryUsingBodyText)
	if s.UseBodyText {
		if body != "" {
			return card.QueryUsingBodyText, ModeBody
		}
		if labels != "" {
			return card.QueryUsingLabels, ModeLabels
		}
		return "", ModeNone
	}
	if labels != "" {
		return card.QueryUsingLabels, ModeLabels
	}
	if body != "" {
		return card.QueryUsingBodyText, ModeBody
	}
	return "", ModeNone
}

// OwnDriLabel is the user's own DRI label name.
func OwnDriLabel(s settings.Snapshot) string {
	return s.DriToken + s.HandleBare
}

// CandidateLabels returns the labels used for the OR/NOT clauses, dropping
// the user's own DRI label when the card asks for it. The input is not modified.
func CandidateLabels(card catalog.Card, s settings.Snapshot, labels []string) []string {
	own := OwnDriLabel(s)
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if card.ExcludeOwnDriLabel && l == own {
			continue
		}
		out = append(out, l)
	}
	return out
}

// QuoteLabel returns name as a double-quoted value with embedded quotes escaped.
func QuoteLabel(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}

func labelsOr(labels []string) string {
	if len(labels) == 0 {
		return "label:" + QuoteLabel(catalog.NoneLabel)
	}
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = QuoteLabel(l)
	}
	return "label:" + strings.Join(quoted, ",")
}

func labelsNot(labels []string) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = "-label:" + QuoteLabel(l)
	}
	return strings.Join(parts, " ")
}

// Build expands the card's template for the snapshot. It returns "" when the
// card has no usable template.
func Build(card catalog.Card, s settings.Snapshot, opts Options) string {
	tmpl, mode := Select(card, s)
	if mode == ModeNone {
		return ""
	}

	var candidates []string
	if mode == ModeLabels {
		candidates = CandidateLabels(card, s, opts.DriLabels)
	}

	driHandle := OwnDriLabel(s)
	dri := s.DriToken
	if mode == ModeLabels {
		driHandle = "label:" + QuoteLabel(driHandle)
		dri = "label:" + QuoteLabel(dri)
	}

	q := tmpl
	q = strings.ReplaceAll(q, PlaceholderLabelsOr, labelsOr(candidates))
	q = strings.ReplaceAll(q, PlaceholderLabelsNot, labelsNot(candidates))
	q = strings.ReplaceAll(q, PlaceholderDriHandle, driHandle)
	q = strings.ReplaceAll(q, PlaceholderHandle, s.Handle)
	q = strings.ReplaceAll(q, PlaceholderHandleBare, s.HandleBare)
	q = strings.ReplaceAll(q, PlaceholderDri, dri)
	q = strings.TrimSpace(q)

	if s.Repo != "" {
		return "repo:" + s.Repo + " " + q
	}
	return q
}

// NeedsLabels reports whether building the card for the snapshot consumes the
// repository's DRI label set.
func NeedsLabels(card catalog.Card, s settings.Snapshot) bool {
	tmpl, mode := Select(card, s)
	if mode != ModeLabels {
		return false
	}
	return strings.Contains(tmpl, PlaceholderLabelsOr) || strings.Contains(tmpl, PlaceholderLabelsNot)
}

// SearchURL returns the web link that opens the card's query on the hosting
// site. Without a repository it falls back to the global search page.
func SearchURL(webBase string, card catalog.Card, s settings.Snapshot, opts Options) string {
	base := strings.TrimRight(webBase, "/")
	q := url.QueryEscape(Build(card, s, opts))
	if s.Repo == "" {
		return base + "/search?type=issues&q=" + q
	}
	kind := "issues"
	if card.Section != catalog.SectionIssues {
		kind = "pulls"
	}
	return base + "/" + s.Repo + "/" + kind + "?q=" + q
}
