// Package settings merges persisted settings, query-parameter overrides and
// defaults into the immutable Snapshot every query and classification uses.
package settings

import (
	"net/url"
	"regexp"
	"strings"
)

// Field names, shared with the query parameters that override them.
const (
	FieldRepo           = "repo"
	FieldDriToken       = "dri_token"
	FieldHandle         = "handle"
	FieldCoderBodyFlag  = "coder_body_flag"
	FieldCoderLabelFlag = "coder_label_flag"
	FieldUseBodyText    = "use_body_text"
)

// Fields lists every overridable field in display order.
var Fields = []string{
	FieldRepo, FieldDriToken, FieldHandle,
	FieldCoderBodyFlag, FieldCoderLabelFlag, FieldUseBodyText,
}

// NotFound is the handle reported when no DRI could be identified.
const NotFound = "not found"

var repoRe = regexp.MustCompile(`^[^/\s]+/[^/\s]+$`)

// Values is a complete set of field values, used for the default layer.
type Values struct {
	Repo           string `json:"repo"`
	DriToken       string `json:"dri_token"`
	Handle         string `json:"handle"`
	CoderBodyFlag  string `json:"coder_body_flag"`
	CoderLabelFlag string `json:"coder_label_flag"`
	UseBodyText    bool   `json:"use_body_text"`
}

// Defaults returns the hard-coded default layer.
func Defaults() Values {
	return Values{
		Repo:           "",
		DriToken:       "DRI:@",
		Handle:         "@me",
		CoderBodyFlag:  "coder",
		CoderLabelFlag: "op_mia",
		UseBodyText:    false,
	}
}

// Overlay returns v with every non-blank field of p applied.
func (v Values) Overlay(p Partial) Values {
	out := v
	if s := strings.TrimSpace(p.Repo); s != "" {
		out.Repo = s
	}
	if s := strings.TrimSpace(p.DriToken); s != "" {
		out.DriToken = s
	}
	if s := strings.TrimSpace(p.Handle); s != "" {
		out.Handle = NormalizeHandle(s, v.Handle)
	}
	if s := strings.TrimSpace(p.CoderBodyFlag); s != "" {
		out.CoderBodyFlag = s
	}
	if s := strings.TrimSpace(p.CoderLabelFlag); s != "" {
		out.CoderLabelFlag = s
	}
	if p.UseBodyText != nil {
		out.UseBodyText = *p.UseBodyText
	}
	return out
}

// Partial is a sparse set of field values. Blank strings and a nil
// UseBodyText mean "not provided". Query-parameter overrides are a Partial.
type Partial struct {
	Repo           string `json:"repo,omitempty"`
	DriToken       string `json:"dri_token,omitempty"`
	Handle         string `json:"handle,omitempty"`
	CoderBodyFlag  string `json:"coder_body_flag,omitempty"`
	CoderLabelFlag string `json:"coder_label_flag,omitempty"`
	UseBodyText    *bool  `json:"use_body_text,omitempty"`
}

// Has reports whether the field is provided. For overrides this means the
// field is locked for the session.
func (p Partial) Has(field string) bool {
	switch field {
	case FieldRepo:
		return strings.TrimSpace(p.Repo) != ""
	case FieldDriToken:
		return strings.TrimSpace(p.DriToken) != ""
	case FieldHandle:
		return strings.TrimSpace(p.Handle) != ""
	case FieldCoderBodyFlag:
		return strings.TrimSpace(p.CoderBodyFlag) != ""
	case FieldCoderLabelFlag:
		return strings.TrimSpace(p.CoderLabelFlag) != ""
	case FieldUseBodyText:
		return p.UseBodyText != nil
	}
	return false
}

// Locked returns the provided fields, in Fields order.
func (p Partial) Locked() []string {
	var out []string
	for _, f := range Fields {
		if p.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// ParseOverrides reads override values from URL query parameters.
// Blank values are ignored; use_body_text is present-means-set, and only
// 1/true/yes/on (any case) count as true.
func ParseOverrides(q url.Values) Partial {
	var p Partial
	p.Repo = strings.TrimSpace(q.Get(FieldRepo))
	p.DriToken = strings.TrimSpace(q.Get(FieldDriToken))
	if h := strings.TrimSpace(q.Get(FieldHandle)); h != "" {
		p.Handle = NormalizeHandle(h, "")
	}
	p.CoderBodyFlag = strings.TrimSpace(q.Get(FieldCoderBodyFlag))
	p.CoderLabelFlag = strings.TrimSpace(q.Get(FieldCoderLabelFlag))
	if q.Has(FieldUseBodyText) {
		b := ParseBool(q.Get(FieldUseBodyText))
		p.UseBodyText = &b
	}
	return p
}

// ParseBool reports whether s is one of 1, true, yes, on (case-insensitive).
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Saved is the persisted settings blob.
type Saved struct {
	Repo           string `json:"repo,omitempty"`
	Dri            string `json:"dri,omitempty"`
	Handle         string `json:"handle,omitempty"`
	CoderBodyFlag  string `json:"coderBodyFlag,omitempty"`
	CoderLabelFlag string `json:"coderLabelFlag,omitempty"`
	Token          string `json:"token,omitempty"`
	UseBodyText    *bool  `json:"useBodyText,omitempty"`
}

func (s Saved) partial() Partial {
	return Partial{
		Repo:           s.Repo,
		DriToken:       s.Dri,
		Handle:         s.Handle,
		CoderBodyFlag:  s.CoderBodyFlag,
		CoderLabelFlag: s.CoderLabelFlag,
		UseBodyText:    s.UseBodyText,
	}
}

// Inputs are the current raw field values entered by the user (CLI flags,
// web form). Blank means "unchanged". Reset lists fields submitted blank on
// purpose: their persisted value is dropped and the default applies again.
// ClearToken forgets a stored token.
type Inputs struct {
	Partial
	Reset      []string
	Token      string
	ClearToken bool
}

// Resets reports whether field was submitted blank.
func (in Inputs) Resets(field string) bool {
	for _, f := range in.Reset {
		if f == field {
			return true
		}
	}
	return false
}

// FormInputs reads a settings form. Every string field present in the form
// is provided: a value sets it, a blank resets it to the default. The last
// use_body_text value wins so a checkbox can follow a hidden input.
func FormInputs(form url.Values) Inputs {
	var in Inputs
	set := func(field string, dst *string) {
		vals, ok := form[field]
		if !ok {
			return
		}
		v := ""
		if len(vals) > 0 {
			v = strings.TrimSpace(vals[0])
		}
		if v == "" {
			in.Reset = append(in.Reset, field)
			return
		}
		*dst = v
	}
	set(FieldRepo, &in.Repo)
	set(FieldDriToken, &in.DriToken)
	set(FieldHandle, &in.Handle)
	set(FieldCoderBodyFlag, &in.CoderBodyFlag)
	set(FieldCoderLabelFlag, &in.CoderLabelFlag)
	if vals := form[FieldUseBodyText]; len(vals) > 0 {
		b := ParseBool(vals[len(vals)-1])
		in.UseBodyText = &b
	}
	in.Token = form.Get("token")
	in.ClearToken = ParseBool(form.Get("clear_token"))
	return in
}

// ValidateReset returns the first name in fields that is not a settings
// field, or "" when all are known.
func ValidateReset(fields []string) string {
	for _, f := range fields {
		known := false
		for _, k := range Fields {
			if f == k {
				known = true
				break
			}
		}
		if !known {
			return f
		}
	}
	return ""
}

// without returns p with the named fields cleared.
func (p Partial) without(fields []string) Partial {
	for _, f := range fields {
		switch f {
		case FieldRepo:
			p.Repo = ""
		case FieldDriToken:
			p.DriToken = ""
		case FieldHandle:
			p.Handle = ""
		case FieldCoderBodyFlag:
			p.CoderBodyFlag = ""
		case FieldCoderLabelFlag:
			p.CoderLabelFlag = ""
		case FieldUseBodyText:
			p.UseBodyText = nil
		}
	}
	return p
}

// Snapshot is the normalized settings state for one render cycle. It is a
// value: callers replace it wholesale, never mutate a shared one.
type Snapshot struct {
	Repo           string `json:"repo"`
	DriToken       string `json:"dri_token"`
	Handle         string `json:"handle"`
	HandleBare     string `json:"handle_bare"`
	CoderBodyFlag  string `json:"coder_body_flag"`
	CoderLabelFlag string `json:"coder_label_flag"`
	UseBodyText    bool   `json:"use_body_text"`
	Token          string `json:"-"`
}

// HasToken reports whether searches will be authenticated.
func (s Snapshot) HasToken() bool {
	return s.Token != ""
}

// RepoValid reports whether Repo is usable for network calls.
func (s Snapshot) RepoValid() bool {
	return ValidRepo(s.Repo)
}

// Resolve merges the layers, highest precedence first: override, current
// input, persisted value, default. A reset input skips the persisted value.
// Repo validity is not enforced.
func Resolve(defaults Values, saved Saved, overrides Partial, in Inputs) Snapshot {
	if strings.TrimSpace(defaults.Handle) == "" {
		defaults.Handle = Defaults().Handle
	}
	defaults.Handle = NormalizeHandle(defaults.Handle, Defaults().Handle)
	if strings.TrimSpace(defaults.DriToken) == "" {
		defaults.DriToken = Defaults().DriToken
	}

	v := defaults.Overlay(saved.partial().without(in.Reset)).Overlay(in.Partial).Overlay(overrides)

	token := strings.TrimSpace(saved.Token)
	if in.ClearToken {
		token = ""
	}
	if t := strings.TrimSpace(in.Token); t != "" {
		token = t
	}

	return Snapshot{
		Repo:           v.Repo,
		DriToken:       v.DriToken,
		Handle:         v.Handle,
		HandleBare:     StripAt(v.Handle),
		CoderBodyFlag:  v.CoderBodyFlag,
		CoderLabelFlag: v.CoderLabelFlag,
		UseBodyText:    v.UseBodyText,
		Token:          token,
	}
}

// Persist returns the settings blob to store after applying inputs.
// Fields locked by an override keep their previously persisted value.
// Reset fields are removed so the default layer shows through.
func Persist(prev Saved, overrides Partial, in Inputs) Saved {
	out := prev
	for _, f := range in.Reset {
		if overrides.Has(f) {
			continue
		}
		switch f {
		case FieldRepo:
			out.Repo = ""
		case FieldDriToken:
			out.Dri = ""
		case FieldHandle:
			out.Handle = ""
		case FieldCoderBodyFlag:
			out.CoderBodyFlag = ""
		case FieldCoderLabelFlag:
			out.CoderLabelFlag = ""
		case FieldUseBodyText:
			out.UseBodyText = nil
		}
	}
	if !overrides.Has(FieldRepo) && in.Has(FieldRepo) {
		out.Repo = strings.TrimSpace(in.Repo)
	}
	if !overrides.Has(FieldDriToken) && in.Has(FieldDriToken) {
		out.Dri = strings.TrimSpace(in.DriToken)
	}
	if !overrides.Has(FieldHandle) && in.Has(FieldHandle) {
		out.Handle = NormalizeHandle(in.Handle, Defaults().Handle)
	}
	if !overrides.Has(FieldCoderBodyFlag) && in.Has(FieldCoderBodyFlag) {
		out.CoderBodyFlag = strings.TrimSpace(in.CoderBodyFlag)
	}
	if !overrides.Has(FieldCoderLabelFlag) && in.Has(FieldCoderLabelFlag) {
		out.CoderLabelFlag = strings.TrimSpace(in.CoderLabelFlag)
	}
	if !overrides.Has(FieldUseBodyText) && in.UseBodyText != nil {
		b := *in.UseBodyText
		out.UseBodyText = &b
	}
	if in.ClearToken {
		out.Token = ""
	}
	if t := strings.TrimSpace(in.Token); t != "" {
		out.Token = t
	}
	return out
}

// NormalizeHandle trims raw and prefixes "@" unless present. Blank input
// yields fallback.
func NormalizeHandle(raw, fallback string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	if strings.HasPrefix(trimmed, "@") {
		return trimmed
	}
	return "@" + trimmed
}

// EnsureAt prefixes "@" unless present; an empty handle is NotFound.
func EnsureAt(handle string) string {
	if handle == "" {
		return NotFound
	}
	if strings.HasPrefix(handle, "@") {
		return handle
	}
	return "@" + handle
}

// StripAt removes every leading "@".
func StripAt(handle string) string {
	return strings.TrimLeft(handle, "@")
}

// ValidRepo reports whether repo is owner/repo shaped.
func ValidRepo(repo string) bool {
	repo = strings.TrimSpace(repo)
	return repo != "" && repoRe.MatchString(repo)
}

// Fingerprint identifies the settings combination that produced a cached
// result set. UseBodyText and Token are not part of it, so a sourcing toggle
// keeps the cache and the TTL decides staleness.
func Fingerprint(scope string, s Snapshot) string {
	return strings.Join([]string{
		scope, s.Repo, s.DriToken, s.Handle, s.CoderBodyFlag, s.CoderLabelFlag,
	}, "::")
}
