package ops

import (
	"strings"
	"time"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/dri"
	"github.com/hpungsan/dridash/internal/issue"
	"github.com/hpungsan/dridash/internal/notes"
	"github.com/hpungsan/dridash/internal/settings"
)

// Placeholder texts for card lists.
const (
	PlaceholderNotLoaded = "Not loaded yet."
	PlaceholderEmpty     = "No items found."
)

// ItemView is one rendered list entry.
type ItemView struct {
	ID      int64       `json:"id"`
	Number  int         `json:"number"`
	Title   string      `json:"title"`
	URL     string      `json:"url"`
	Author  string      `json:"author"`
	Updated string      `json:"updated"`
	Body    string      `json:"-"`
	Lines   []string    `json:"lines,omitempty"`
	Meta    string      `json:"meta"`
	NoteKey string      `json:"note_key"`
	Note    notes.Entry `json:"note"`
}

// BuildItemView derives the display lines of item for card under snap.
func BuildItemView(card catalog.Card, it issue.Item, snap settings.Snapshot, note notes.Entry) ItemView {
	author := it.AuthorLogin()
	if author == "" {
		author = "unknown"
	}
	v := ItemView{
		ID:      it.ID,
		Number:  it.Number,
		Title:   it.Title,
		URL:     it.HTMLURL,
		Author:  author,
		Updated: formatDate(it.UpdatedAt),
		Body:    it.Body,
		Lines:   TopMetaLines(card.ID, it, snap),
		NoteKey: notes.Key(snap.Repo, it.ID),
		Note:    note,
	}

	parts := []string{author + " · updated " + v.Updated}
	switch card.ID {
	case "issues-assigned":
		parts = append([]string{"Assignee: " + dri.Assignee(it)}, parts...)
	case "issues-unlabeled":
		if a := dri.Assignee(it); a != "unassigned" {
			parts = append([]string{"Assignee: " + a}, parts...)
		}
		if it.Body != "" {
			opts := dri.OptionsFrom(snap)
			opts.UseBodyText = true
			if line, ok := dri.Format(dri.Extract(it, opts), snap.Handle); ok {
				parts = append([]string{line}, parts...)
			}
		}
	}
	v.Meta = strings.Join(parts, " · ")
	return v
}

// TopMetaLines returns the DRI and assignee lines shown above an item.
func TopMetaLines(cardID string, it issue.Item, snap settings.Snapshot) []string {
	showDri := cardID == "prs-mine" || catalog.YourRole[cardID] || catalog.TopMetaDRI[cardID]
	var d dri.Result
	if showDri {
		d = dri.Extract(it, dri.OptionsFrom(snap))
	}

	var lines []string
	switch {
	case cardID == "prs-mine":
		if line, ok := dri.Format(d, snap.Handle); ok {
			lines = append(lines, line+" ("+prsMineAction(d, snap.Handle)+")")
		}
	case catalog.YourRole[cardID]:
		role := "reviewer"
		if d.Role == dri.RoleCode {
			role = "coder"
		}
		lines = append(lines, "Your role: "+role)
	case catalog.TopMetaDRI[cardID]:
		if line, ok := dri.Format(d, snap.Handle); ok {
			lines = append(lines, line)
		}
	}

	if catalog.TopMetaAssignee[cardID] {
		lines = append(lines, dri.FormatAssignee(it, d, snap, dri.AssigneeOptions{
			IncludeActionForYou: catalog.YourRole[cardID],
		}))
	}
	return lines
}

// prsMineAction tells the assignee what the DRI is waiting for.
func prsMineAction(d dri.Result, you string) string {
	isYou := you != "" && strings.EqualFold(d.Handle, you)
	if d.Role == dri.RoleCode {
		if isYou {
			return "pls code"
		}
		return "pls review"
	}
	if isYou {
		return "pls review"
	}
	return "pls code"
}

func formatDate(ts string) string {
	if ts == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("2006-01-02")
}
