package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/settings"
)

func snap(repo string, useBody bool) settings.Snapshot {
	return settings.Resolve(settings.Defaults(), settings.Saved{}, settings.Partial{Repo: repo, UseBodyText: &useBody}, settings.Inputs{})
}

func TestBuild_LabelsOr(t *testing.T) {
	card := catalog.Card{ID: "c", QueryUsingLabels: "is:pr is:open __DRI_LABELS_OR__ no:assignee"}

	got := Build(card, snap("org/repo", false), Options{DriLabels: []string{"DRI:@a", "DRI:@b"}})
	require.Equal(t, `repo:org/repo is:pr is:open label:"DRI:@a","DRI:@b" no:assignee`, got)

	got = Build(card, snap("org/repo", false), Options{DriLabels: []string{}})
	require.Equal(t, `repo:org/repo is:pr is:open label:"__none__" no:assignee`, got)

	got = Build(card, snap("org/repo", false), Options{})
	require.Equal(t, `repo:org/repo is:pr is:open label:"__none__" no:assignee`, got)
}

func TestBuild_EmptyLabelsForEveryCard(t *testing.T) {
	s := snap("org/repo", false)
	for _, card := range catalog.Cards() {
		if card.QueryUsingLabels == "" {
			continue
		}
		got := Build(card, s, Options{})
		if strings.Contains(card.QueryUsingLabels, PlaceholderLabelsOr) {
			require.Contains(t, got, `label:"__none__"`, card.ID)
		}
		require.NotContains(t, got, "-label:", card.ID)
		require.NotContains(t, got, "__DRI", card.ID)
		require.NotContains(t, got, "__HANDLE", card.ID)
	}
}

func TestBuild_LabelsNot(t *testing.T) {
	card := catalog.Card{ID: "c", QueryUsingLabels: "is:pr is:open __DRI_LABELS_NOT__"}
	s := snap("org/repo", false)

	for n := 1; n <= 5; n++ {
		var labels []string
		for i := 0; i < n; i++ {
			labels = append(labels, "DRI:@user"+string(rune('a'+i)))
		}
		got := Build(card, s, Options{DriLabels: labels})
		require.Equal(t, n, strings.Count(got, "-label:"))
		for _, l := range labels {
			require.Contains(t, got, `-label:"`+l+`"`)
		}
	}

	got := Build(card, s, Options{})
	require.Equal(t, "repo:org/repo is:pr is:open", got)
}

func TestBuild_ExcludeOwnDriLabel(t *testing.T) {
	card, ok := catalog.Lookup("prs-dri-others")
	require.True(t, ok)

	s := settings.Resolve(settings.Defaults(), settings.Saved{}, settings.Partial{Repo: "org/repo", Handle: "@me"}, settings.Inputs{})
	labels := []string{"DRI:@me", "DRI:@alice"}
	got := Build(card, s, Options{DriLabels: labels})
	require.Equal(t, `repo:org/repo is:pr is:open assignee:me label:"DRI:@alice"`, got)
	require.Equal(t, []string{"DRI:@me", "DRI:@alice"}, labels)

	got = Build(card, s, Options{DriLabels: []string{"DRI:@me"}})
	require.Equal(t, `repo:org/repo is:pr is:open assignee:me label:"__none__"`, got)
}

func TestBuild_HandlePlaceholders(t *testing.T) {
	card, ok := catalog.Lookup("prs-dri-waiting")
	require.True(t, ok)

	s := settings.Resolve(settings.Defaults(), settings.Saved{}, settings.Partial{Repo: "org/repo", Handle: "octo"}, settings.Inputs{})
	require.Equal(t, `repo:org/repo is:pr is:open label:"DRI:@octo" -assignee:octo`, Build(card, s, Options{}))

	yes := true
	s = settings.Resolve(settings.Defaults(), settings.Saved{}, settings.Partial{Repo: "org/repo", Handle: "octo", UseBodyText: &yes}, settings.Inputs{})
	require.Equal(t, `repo:org/repo is:pr is:open in:body "DRI:@octo" -assignee:octo`, Build(card, s, Options{}))
}

func TestBuild_DriPlaceholder(t *testing.T) {
	card := catalog.Card{ID: "c", QueryUsingLabels: "__DRI__ __HANDLE__", QueryUsingBodyText: `in:body "__DRI__" __HANDLE__`}
	require.Equal(t, `label:"DRI:@" @me`, Build(card, snap("", false), Options{}))
	require.Equal(t, `in:body "DRI:@" @me`, Build(card, snap("", true), Options{}))
}

func TestBuild_TemplateFallback(t *testing.T) {
	bodyOnly := catalog.Card{ID: "b", QueryUsingBodyText: `is:pr in:body "__DRI__"`}
	require.Equal(t, `repo:o/r is:pr in:body "DRI:@"`, Build(bodyOnly, snap("o/r", false), Options{}))

	labelsOnly := catalog.Card{ID: "l", QueryUsingLabels: "is:pr __DRI_LABELS_OR__"}
	require.Equal(t, `repo:o/r is:pr label:"x"`, Build(labelsOnly, snap("o/r", true), Options{DriLabels: []string{"x"}}))
}

func TestBuild_NoTemplate(t *testing.T) {
	card := catalog.Card{ID: "empty"}
	require.Equal(t, "", Build(card, snap("org/repo", false), Options{}))
	require.Equal(t, "", Build(card, snap("org/repo", true), Options{}))
}

func TestBuild_NoRepo(t *testing.T) {
	card := catalog.Card{ID: "c", QueryUsingLabels: "  is:issue is:open  "}
	require.Equal(t, "is:issue is:open", Build(card, snap("", false), Options{}))
}

func TestBuild_EscapesQuotes(t *testing.T) {
	card := catalog.Card{ID: "c", QueryUsingLabels: "__DRI_LABELS_OR__ __DRI_LABELS_NOT__"}
	got := Build(card, snap("", false), Options{DriLabels: []string{`DRI:@"x"`}})
	require.Equal(t, `label:"DRI:@\"x\"" -label:"DRI:@\"x\""`, got)
}

func TestBuild_Idempotent(t *testing.T) {
	s := snap("org/repo", false)
	labels := []string{"DRI:@a", "DRI:@b"}
	for _, card := range catalog.Cards() {
		first := Build(card, s, Options{DriLabels: labels})
		second := Build(card, s, Options{DriLabels: labels})
		require.Equal(t, first, second, card.ID)
	}
}

func TestNeedsLabels(t *testing.T) {
	c, _ := catalog.Lookup("prs-no-dri")
	require.True(t, NeedsLabels(c, snap("o/r", false)))
	require.False(t, NeedsLabels(c, snap("o/r", true)))

	c, _ = catalog.Lookup("issues-mine")
	require.False(t, NeedsLabels(c, snap("o/r", false)))
}

func TestSearchURL(t *testing.T) {
	issues, _ := catalog.Lookup("issues-unlabeled")
	got := SearchURL("https://github.com/", issues, snap("org/repo", false), Options{})
	require.Equal(t, "https://github.com/org/repo/issues?q=repo%3Aorg%2Frepo+is%3Aissue+is%3Aopen+no%3Alabel", got)

	pulls, _ := catalog.Lookup("prs-mine")
	got = SearchURL("https://github.com", pulls, snap("org/repo", false), Options{})
	require.True(t, strings.HasPrefix(got, "https://github.com/org/repo/pulls?q="), got)

	got = SearchURL("https://github.com", issues, snap("", false), Options{})
	require.Equal(t, "https://github.com/search?type=issues&q=is%3Aissue+is%3Aopen+no%3Alabel", got)
}
