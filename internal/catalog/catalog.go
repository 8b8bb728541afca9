// Package catalog holds the fixed, ordered list of dashboard cards and the
// timing constants shared by the refresh machinery.
package catalog

import (
	"fmt"
	"time"
)

// Sections in display order.
const (
	SectionPulls  = "pulls"
	SectionTriage = "triage"
	SectionIssues = "issues"
)

// Grid tags that place a card outside its section's default grid.
const (
	GridTriagePriority = "triagePriority"
)

// Tones mark cards that deserve attention.
const (
	ToneWarn  = "warn"
	ToneError = "error"
)

const (
	// SearchDelay separates consecutive card fetches in a section refresh when authenticated.
	SearchDelay = 5 * time.Second
	// NoTokenDelay is the minimum spacing between unauthenticated searches.
	NoTokenDelay = 10 * time.Second
	// CardCacheTTL bounds how long a cached card result is considered fresh.
	CardCacheTTL = time.Hour
	// DriLabelsTTL bounds how long a repository's DRI label set is reused.
	DriLabelsTTL = 24 * time.Hour

	SearchPerPage = 8
	NoteMaxChars  = 120

	// NoneLabel is a label name no repository carries; a clause on it matches nothing.
	NoneLabel = "__none__"
)

// Card is one category of issues/PRs shown on the dashboard.
type Card struct {
	ID                 string `json:"id"`
	Section            string `json:"section"`
	Grid               string `json:"grid,omitempty"`
	Label              string `json:"label"`
	Tone               string `json:"tone,omitempty"`
	Title              string `json:"title"`
	Desc               string `json:"desc"`
	QueryUsingLabels   string `json:"query_using_labels,omitempty"`
	QueryUsingBodyText string `json:"query_using_body_text,omitempty"`
	ExcludeOwnDriLabel bool   `json:"exclude_own_dri_label,omitempty"`
}

// GridName returns the grid the card renders into.
func (c Card) GridName() string {
	if c.Grid != "" {
		return c.Grid
	}
	return c.Section
}

var cards = []Card{
	{
		ID:                 "issues-unlabeled",
		Section:            SectionIssues,
		Label:              "Untriaged",
		Title:              "Open issues without labels",
		Desc:               "Zero labels attached. Likely need triage.",
		QueryUsingLabels:   "is:issue is:open no:label",
		QueryUsingBodyText: "is:issue is:open no:label",
	},
	{
		ID:                 "issues-assigned",
		Section:            SectionIssues,
		Label:              "In Progress",
		Title:              "Open issues with an assignee",
		Desc:               "Issues that are currently owned.",
		QueryUsingLabels:   "is:issue is:open assignee:*",
		QueryUsingBodyText: "is:issue is:open assignee:*",
	},
	{
		ID:                 "issues-mine",
		Section:            SectionIssues,
		Label:              "Mine",
		Title:              "Open issues assigned to you",
		Desc:               "Issues where you are the assignee.",
		QueryUsingLabels:   "is:issue is:open assignee:__HANDLE_BARE__",
		QueryUsingBodyText: "is:issue is:open assignee:__HANDLE_BARE__",
	},
	{
		ID:                 "prs-mine",
		Section:            SectionPulls,
		Label:              "Blocking",
		Title:              "PRs assigned to you",
		Desc:               "You are blocking these PRs as assignee.",
		QueryUsingLabels:   "is:pr is:open assignee:__HANDLE_BARE__",
		QueryUsingBodyText: "is:pr is:open assignee:__HANDLE_BARE__",
	},
	{
		ID:                 "prs-dri-waiting",
		Section:            SectionPulls,
		Label:              "DRI waiting",
		Title:              "PRs: you are DRI, not assignee",
		Desc:               "You are DRI, not assigned: waiting on others.",
		QueryUsingLabels:   "is:pr is:open __DRI_HANDLE__ -assignee:__HANDLE_BARE__",
		QueryUsingBodyText: `is:pr is:open in:body "__DRI_HANDLE__" -assignee:__HANDLE_BARE__`,
	},
	{
		ID:                 "prs-dri-me",
		Section:            SectionPulls,
		Label:              "DRI: You",
		Title:              "PRs: you are DRI",
		Desc:               "The PR lists you as DRI.",
		QueryUsingLabels:   "is:pr is:open __DRI_HANDLE__",
		QueryUsingBodyText: `is:pr is:open in:body "__DRI_HANDLE__"`,
	},
	{
		ID:                 "prs-dri-others",
		Section:            SectionPulls,
		Label:              "Reviewing",
		Title:              "PRs assigned to you, someone else is DRI",
		Desc:               "Another DRI owns these; you are on the hook as assignee.",
		QueryUsingLabels:   "is:pr is:open assignee:__HANDLE_BARE__ __DRI_LABELS_OR__",
		QueryUsingBodyText: `is:pr is:open assignee:__HANDLE_BARE__ in:body "__DRI__" NOT "__DRI_HANDLE__"`,
		ExcludeOwnDriLabel: true,
	},
	{
		ID:                 "prs-dri-waiting-assignee",
		Section:            SectionTriage,
		Grid:               GridTriagePriority,
		Label:              "WAITING",
		Tone:               ToneWarn,
		Title:              "PRs with DRI but no assignee",
		Desc:               "DRI declared but nobody is assigned. Assign the work.",
		QueryUsingLabels:   "is:pr is:open __DRI_LABELS_OR__ no:assignee",
		QueryUsingBodyText: `is:pr is:open in:body "__DRI__" no:assignee`,
	},
	{
		ID:                 "prs-no-dri",
		Section:            SectionTriage,
		Label:              "Unowned",
		Tone:               ToneWarn,
		Title:              "Open PRs with no DRI",
		Desc:               "The PR does not declare a DRI. Unowned.",
		QueryUsingLabels:   "is:pr is:open __DRI_LABELS_NOT__",
		QueryUsingBodyText: `is:pr is:open NOT in:body "__DRI__"`,
	},
	{
		ID:                 "prs-with-dri",
		Section:            SectionTriage,
		Label:              "Owned",
		Title:              "Open PRs with a DRI",
		Desc:               "The PR declares a DRI.",
		QueryUsingLabels:   "is:pr is:open __DRI_LABELS_OR__",
		QueryUsingBodyText: `is:pr is:open in:body "__DRI__"`,
	},
	{
		ID:                 "prs-assignee-no-dri",
		Section:            SectionTriage,
		Label:              "Needs DRI",
		Tone:               ToneError,
		Title:              "PRs with assignee but no DRI",
		Desc:               "Assigned but missing a DRI. Likely erroneous.",
		QueryUsingLabels:   "is:pr is:open assignee:* __DRI_LABELS_NOT__",
		QueryUsingBodyText: `is:pr is:open assignee:* NOT in:body "__DRI__"`,
	},
}

var sections = []string{SectionPulls, SectionTriage, SectionIssues}

// Cards returns a copy of the catalog in display order.
func Cards() []Card {
	out := make([]Card, len(cards))
	copy(out, cards)
	return out
}

// Sections returns the section names in display order.
func Sections() []string {
	out := make([]string, len(sections))
	copy(out, sections)
	return out
}

// IsSection reports whether name is a known section.
func IsSection(name string) bool {
	for _, s := range sections {
		if s == name {
			return true
		}
	}
	return false
}

// Lookup returns the card with the given id.
func Lookup(id string) (Card, bool) {
	for _, c := range cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

// ForSection returns the cards of a section in catalog order.
func ForSection(section string) []Card {
	var out []Card
	for _, c := range cards {
		if c.Section == section {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks catalog invariants: unique ids and at least one query template per card.
func Validate(list []Card) error {
	seen := make(map[string]bool, len(list))
	for i, c := range list {
		if c.ID == "" {
			return fmt.Errorf("card %d: id is required", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("card %q: duplicate id", c.ID)
		}
		seen[c.ID] = true
		if c.QueryUsingLabels == "" && c.QueryUsingBodyText == "" {
			return fmt.Errorf("card %q: no query template", c.ID)
		}
	}
	return nil
}

// Cards whose items show a DRI line.
var TopMetaDRI = map[string]bool{
	"prs-with-dri":             true,
	"prs-mine":                 true,
	"prs-dri-waiting-assignee": true,
	"prs-dri-me":               true,
	"prs-dri-waiting":          true,
	"prs-dri-others":           true,
}

// Cards whose items show "Your role" and the assignee action for you.
var YourRole = map[string]bool{
	"prs-dri-me":      true,
	"prs-dri-waiting": true,
}

// Cards whose items show an assignee line.
var TopMetaAssignee = map[string]bool{
	"prs-with-dri":             true,
	"prs-no-dri":               true,
	"prs-dri-me":               true,
	"prs-dri-waiting":          true,
	"prs-dri-others":           true,
	"prs-dri-waiting-assignee": true,
	"prs-assignee-no-dri":      true,
}
