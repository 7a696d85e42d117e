// ABOUTME: Reply sanitizer that strips citation artifacts from assistant output
// ABOUTME: Removes citation markers, rewrites markdown links, drops source headings, collapses whitespace

// Package sanitize cleans assistant replies before they are sent to a chat
// medium. Sanitize removes artifacts and never grows the text; Format re-flows
// the cleaned text for reading on a phone.
package sanitize

import (
	"regexp"
	"strings"
)

// Family describes one bracket convention used for citation markers.
// Separators lists the characters that may introduce a tag after the
// number, as in 【4:2†source】. An empty Separators means the family only
// matches plain numeric markers such as (3) or (3:1).
// CompactTag restricts tags to non-space characters, so (2-3 days) is prose
// while (2-faq) is a citation.
type Family struct {
	Open       string
	Close      string
	Separators string
	CompactTag bool
}

// Options configures a Sanitizer.
type Options struct {
	// Families are the bracket conventions treated as citations.
	// Defaults to DefaultFamilies when empty.
	Families []Family

	// SourceHeadings are the heading words whose lines are dropped.
	// Defaults to DefaultSourceHeadings when empty.
	SourceHeadings []string
}

// DefaultFamilies covers the citation shapes seen in assistant output:
// numbered markers in lenticular, white square, square and round brackets,
// each with an optional tag after a dagger, asterisk or hyphen.
var DefaultFamilies = []Family{
	{Open: "【", Close: "】", Separators: "†*-"},
	{Open: "⟦", Close: "⟧", Separators: "†*-"},
	{Open: "[", Close: "]", Separators: "†*-", CompactTag: true},
	{Open: "(", Close: ")", Separators: "†*-", CompactTag: true},
}

// DefaultSourceHeadings are the localized "Sources:" headings to drop.
var DefaultSourceHeadings = []string{
	"sources", "source", "fuentes", "fuente", "fontes", "quellen", "références", "references",
}

// Sanitizer strips citation artifacts. It is safe for concurrent use.
type Sanitizer struct {
	citations []*citationPattern
	headings  *regexp.Regexp
}

type citationPattern struct {
	re *regexp.Regexp
	// squareLink is set for the [ ] family so that [1](url) is left for the
	// link rewrite instead of losing its label to the citation pass.
	squareLink bool
}

var (
	// Link targets may hold one level of balanced parentheses, as in
	// https://en.wikipedia.org/wiki/Go_(lenguaje).
	markdownLink  = regexp.MustCompile(`\[([^\]\n]*)\]\(((?:[^\s()]|\([^\s()]*\))+)\)`)
	linkTarget    = regexp.MustCompile(`^\(((?:[^\s()]|\([^\s()]*\))+)\)`)
	numericTarget = regexp.MustCompile(`^[\d:]+$`)
	horizontalWS  = regexp.MustCompile(`[\t\f\v\r\p{Zs}]+`)
	spaceAroundNL = regexp.MustCompile(` *\n *`)
	manyNewlines  = regexp.MustCompile(`\n{3,}`)
)

var defaultSanitizer = New(Options{})

// New builds a Sanitizer from opts.
func New(opts Options) *Sanitizer {
	families := opts.Families
	if len(families) == 0 {
		families = DefaultFamilies
	}
	headings := opts.SourceHeadings
	if len(headings) == 0 {
		headings = DefaultSourceHeadings
	}

	s := &Sanitizer{}
	for _, f := range families {
		if f.Open == "" || f.Close == "" {
			continue
		}
		s.citations = append(s.citations, &citationPattern{
			re:         regexp.MustCompile(citationExpr(f)),
			squareLink: f.Open == "[" && f.Close == "]",
		})
	}

	quoted := make([]string, 0, len(headings))
	for _, h := range headings {
		quoted = append(quoted, regexp.QuoteMeta(h))
	}
	// \r is allowed before the newline so CRLF text matches too.
	s.headings = regexp.MustCompile(`(?im)^[ \t]*(?:#{1,6}[ \t]*)?(?:\*\*|__)?(?:` +
		strings.Join(quoted, "|") + `)[ \t]*:?[ \t]*(?:\*\*|__)?[ \t\r]*(?:\n|$)`)
	return s
}

// citationExpr builds the pattern for one family. Leading horizontal
// whitespace is consumed so "text [1]." becomes "text.".
func citationExpr(f Family) string {
	var b strings.Builder
	b.WriteString(`[ \t]*`)
	b.WriteString(regexp.QuoteMeta(f.Open))
	b.WriteString(`\d+(?::\d+)?`)
	if f.Separators != "" {
		b.WriteString(`(?:[`)
		b.WriteString(classEscape(f.Separators))
		b.WriteString(`][^`)
		b.WriteString(classEscape(f.Close))
		if f.CompactTag {
			b.WriteString(`\s]*)?`)
		} else {
			b.WriteString(`\n]*)?`)
		}
	}
	b.WriteString(regexp.QuoteMeta(f.Close))
	return b.String()
}

func classEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', ']', '[', '^', '-':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Sanitize applies the default Sanitizer.
func Sanitize(raw string) string {
	return defaultSanitizer.Sanitize(raw)
}

// Reply is the full pipeline applied to assistant output: Sanitize then Format.
func Reply(raw string) string {
	return Format(Sanitize(raw))
}

// Sanitize strips citation markers, rewrites [label](url) to url, drops
// "Sources:" heading lines and collapses whitespace. The result is never
// longer than raw.
func (s *Sanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	out := raw
	for _, c := range s.citations {
		out = c.strip(out)
	}
	out = markdownLink.ReplaceAllString(out, "$2")
	out = s.headings.ReplaceAllString(out, "")
	return collapse(out)
}

func (c *citationPattern) strip(s string) string {
	if !c.squareLink {
		return c.re.ReplaceAllString(s, "")
	}
	matches := c.re.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		if isLinkTarget(s[m[1]:]) {
			continue
		}
		b.WriteString(s[last:m[0]])
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// isLinkTarget reports whether s starts with a markdown link target. A
// purely numeric target such as the (4) in [3](4) is another citation.
func isLinkTarget(s string) bool {
	m := linkTarget.FindStringSubmatch(s)
	return m != nil && !numericTarget.MatchString(m[1])
}

func collapse(s string) string {
	s = horizontalWS.ReplaceAllString(s, " ")
	s = spaceAroundNL.ReplaceAllString(s, "\n")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
