package dri

import (
	"regexp"
	"strings"

	"github.com/hpungsan/dridash/internal/issue"
	"github.com/hpungsan/dridash/internal/settings"
)

// Role is the DRI's relation to an item.
type Role string

const (
	RoleCode   Role = "code"
	RoleReview Role = "review"
)

// Result is the classifier's output for one item.
type Result struct {
	Handle string `json:"handle"`
	Role   Role   `json:"role"`
}

// Found reports whether a DRI handle was identified.
func (r Result) Found() bool {
	return r.Handle != "" && r.Handle != settings.NotFound
}

// Options configures classification. Blank fields fall back to the defaults.
type Options struct {
	DriToken       string
	CoderBodyFlag  string
	CoderLabelFlag string
	UseBodyText    bool
}

// OptionsFrom builds Options from a settings snapshot.
func OptionsFrom(s settings.Snapshot) Options {
	return Options{
		DriToken:       s.DriToken,
		CoderBodyFlag:  s.CoderBodyFlag,
		CoderLabelFlag: s.CoderLabelFlag,
		UseBodyText:    s.UseBodyText,
	}
}

func (o Options) normalized() Options {
	d := settings.Defaults()
	if o.DriToken == "" {
		o.DriToken = d.DriToken
	}
	if o.CoderBodyFlag == "" {
		o.CoderBodyFlag = d.CoderBodyFlag
	}
	if o.CoderLabelFlag == "" {
		o.CoderLabelFlag = d.CoderLabelFlag
	}
	return o
}

// FindToken looks for prefix followed by optional whitespace and a handle in
// text, case-insensitively. It returns the raw captured handle.
func FindToken(text, prefix string) (string, bool) {
	if text == "" || prefix == "" {
		return "", false
	}
	m := tokenPattern(prefix).FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// IsDriLabel reports whether a label name carries a DRI token.
func IsDriLabel(name, driToken string) bool {
	_, ok := FindToken(name, driToken)
	return ok
}

func tokenPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(prefix) + `\s*(\S+)`)
}

// findHandle searches the body first (body sourcing only), then the labels in order.
func findHandle(it issue.Item, o Options) (string, bool) {
	if o.UseBodyText && it.Body != "" {
		if h, ok := FindToken(it.Body, o.DriToken); ok {
			return h, true
		}
	}
	for _, l := range it.Labels {
		if l.Name == "" {
			continue
		}
		if h, ok := FindToken(l.Name, o.DriToken); ok {
			return h, true
		}
	}
	return "", false
}

func hasCoderLabelFlag(it issue.Item, flag string) bool {
	if flag == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(flag))
	for _, l := range it.Labels {
		if l.Name != "" && re.MatchString(l.Name) {
			return true
		}
	}
	return false
}

func hasCoderBodyFlag(it issue.Item, o Options) bool {
	if o.CoderBodyFlag == "" || it.Body == "" {
		return false
	}
	raw, ok := FindToken(it.Body, o.DriToken)
	if !ok {
		return false
	}
	bare := settings.StripAt(raw)
	if bare == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(o.DriToken) + `\s*@?` +
		regexp.QuoteMeta(bare) + `\s+` + regexp.QuoteMeta(o.CoderBodyFlag))
	return re.MatchString(it.Body)
}

// IsAuthorMIA reports whether the item signals that its nominal author is
// unavailable and the DRI took over the coding: a coder label flag, or (with
// body sourcing) the DRI tagging themselves with the coder body flag.
func IsAuthorMIA(it issue.Item, opts Options) bool {
	o := opts.normalized()
	if hasCoderLabelFlag(it, o.CoderLabelFlag) {
		return true
	}
	return o.UseBodyText && hasCoderBodyFlag(it, o)
}

// Extract identifies the item's DRI and whether they are coding or reviewing.
// Reviewing is the default; coding needs the DRI to be the author or an
// author-MIA signal.
func Extract(it issue.Item, opts Options) Result {
	o := opts.normalized()
	raw, ok := findHandle(it, o)
	handle := settings.EnsureAt(raw)
	if !ok || handle == settings.NotFound {
		return Result{Handle: settings.NotFound, Role: RoleReview}
	}

	author := strings.ToLower(it.AuthorLogin())
	bare := strings.ToLower(settings.StripAt(handle))
	coderFromAuthor := author != "" && bare != "" && author == bare

	if coderFromAuthor || IsAuthorMIA(it, o) {
		return Result{Handle: handle, Role: RoleCode}
	}
	return Result{Handle: handle, Role: RoleReview}
}

// ResolveCoderHandle returns who is writing the code: the DRI when the
// author is MIA, the author otherwise.
func ResolveCoderHandle(it issue.Item, d Result, opts Options) string {
	if IsAuthorMIA(it, opts) {
		if d.Found() {
			return d.Handle
		}
		return settings.NotFound
	}
	return settings.EnsureAt(it.AuthorLogin())
}

// Format renders "DRI (coder|reviewer): <handle>", with "you" substituted
// when the handle is youHandle. It reports false when no DRI was found.
func Format(d Result, youHandle string) (string, bool) {
	if !d.Found() {
		return "", false
	}
	role := "reviewer"
	if d.Role == RoleCode {
		role = "coder"
	}
	return "DRI (" + role + "): " + youOr(d.Handle, youHandle), true
}

// Assignee returns the first assignee as "@login", or "unassigned".
func Assignee(it issue.Item) string {
	if len(it.Assignees) == 0 || it.Assignees[0].Login == "" {
		return "unassigned"
	}
	return settings.EnsureAt(it.Assignees[0].Login)
}

// AssigneeOptions controls FormatAssignee.
type AssigneeOptions struct {
	// IncludeActionForYou appends "pls code"/"pls review" when you are the assignee.
	IncludeActionForYou bool
}

// FormatAssignee renders the assignee line, annotated with what the assignee
// is doing relative to the DRI.
func FormatAssignee(it issue.Item, d Result, s settings.Snapshot, opts AssigneeOptions) string {
	assignee := Assignee(it)
	if assignee == "unassigned" {
		return "Assignee: unassigned"
	}

	assigneeBare := strings.ToLower(settings.StripAt(assignee))
	author := strings.ToLower(it.AuthorLogin())
	driBare := strings.ToLower(settings.StripAt(d.Handle))

	suffix := ""
	switch {
	case driBare != "" && d.Role == RoleCode:
		if assigneeBare != driBare {
			suffix = " (reviewing)"
		}
	case driBare != "" && d.Role == RoleReview:
		if author != "" && assigneeBare == author && author != driBare {
			suffix = " (coding)"
		}
	}

	isYou := s.Handle != "" && strings.EqualFold(assignee, s.Handle)
	label := assignee
	if isYou {
		label = "you"
	}

	action := ""
	if opts.IncludeActionForYou && isYou {
		coder := ResolveCoderHandle(it, d, OptionsFrom(s))
		coderBare := ""
		if coder != settings.NotFound {
			coderBare = strings.ToLower(settings.StripAt(coder))
		}
		switch {
		case coderBare != "" && coderBare == assigneeBare:
			action = " (pls code)"
		case coder != settings.NotFound:
			action = " (pls review)"
		}
	}

	return "Assignee: " + label + suffix + action
}

func youOr(handle, youHandle string) string {
	if youHandle != "" && strings.EqualFold(handle, youHandle) {
		return "you"
	}
	return handle
}
