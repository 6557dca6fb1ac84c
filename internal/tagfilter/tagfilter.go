// Package tagfilter suppresses text delimited by a configured set of
// XML-like tag names from a token stream, including cases where the
// opening "<", the tag name, or the closing tag straddle multiple
// upstream tokens.
//
// The scanner is single-owner, single-threaded: one Filter instance is
// created per transcoder run and fed tokens in order. It generalizes a
// cross-chunk partial-tag matching idiom written for a single hardcoded
// tag into one that works for an arbitrary configured set.
package tagfilter

import "strings"

type state int

const (
	stateOutside state = iota
	statePending
	stateInTag
)

// Filter suppresses the bodies of configured tags across token boundaries.
// Not safe for concurrent use; one Filter belongs to one stream.
type Filter struct {
	tags []string // open-tag prefixes, e.g. "<xaiartifact"
	st   state

	pendingPrefix string
	tagBuf        string
}

// New builds a Filter for the given tag names (without angle brackets).
// With no tags configured, the filter is the identity function.
func New(tagNames []string) *Filter {
	tags := make([]string, 0, len(tagNames))
	for _, name := range tagNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tags = append(tags, "<"+name)
	}
	return &Filter{tags: tags}
}

// Reset clears all state, as if the Filter were freshly constructed.
func (f *Filter) Reset() {
	f.st = stateOutside
	f.pendingPrefix = ""
	f.tagBuf = ""
}

// Filter consumes one token and returns the text that may be emitted.
func (f *Filter) Filter(token string) string {
	if len(f.tags) == 0 {
		return token
	}
	var out strings.Builder
	for _, r := range token {
		f.step(r, &out)
	}
	return out.String()
}

// Flush returns any still-pending prefix at stream end, e.g. a lone "<"
// that never resolved into a recognized tag.
func (f *Filter) Flush() string {
	if f.st != statePending {
		return ""
	}
	out := f.pendingPrefix
	f.pendingPrefix = ""
	f.st = stateOutside
	return out
}

func (f *Filter) step(r rune, out *strings.Builder) {
	switch f.st {
	case stateOutside:
		if r == '<' {
			f.pendingPrefix = "<"
			f.st = statePending
			return
		}
		out.WriteRune(r)

	case statePending:
		f.pendingPrefix += string(r)
		f.resolvePending(out)

	case stateInTag:
		f.tagBuf += string(r)
		if r == '>' {
			f.resolveInTag()
		}
	}
}

// resolvePending re-evaluates pendingPrefix against every configured tag
// after each extension: commit to InTag on an exact/over-match, keep
// waiting while any tag is still a strict extension of pendingPrefix, or
// emit verbatim once no tag can possibly match.
func (f *Filter) resolvePending(out *strings.Builder) {
	for _, tag := range f.tags {
		if f.pendingPrefix == tag || strings.HasPrefix(f.pendingPrefix, tag) {
			f.tagBuf = f.pendingPrefix
			f.pendingPrefix = ""
			f.st = stateInTag
			return
		}
	}
	for _, tag := range f.tags {
		if strings.HasPrefix(tag, f.pendingPrefix) {
			// Ambiguous: more input could still turn this into a tag.
			return
		}
	}
	out.WriteString(f.pendingPrefix)
	f.pendingPrefix = ""
	f.st = stateOutside
}

// resolveInTag checks whether the just-appended ">" closes the current
// tag: a self-close ("/>") or a matching "</T>" close. A bare ">" that is
// neither is treated as still inside the tag — a known over-match inside
// attribute values, preserved deliberately rather than tightened.
func (f *Filter) resolveInTag() {
	if strings.HasSuffix(f.tagBuf, "/>") {
		f.tagBuf = ""
		f.st = stateOutside
		return
	}
	for _, tag := range f.tags {
		name := strings.TrimPrefix(tag, "<")
		if strings.Contains(f.tagBuf, "</"+name+">") {
			f.tagBuf = ""
			f.st = stateOutside
			return
		}
	}
}
