// Package sanitize cleans untrusted text before it is written into batch
// reports: model-generated assessments and batch identifiers that end up in
// file names.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxAssessmentLength is the maximum allowed length for an AI assessment.
const MaxAssessmentLength = 4000

// MaxFileComponentLength is the maximum length of a sanitized file name component.
const MaxFileComponentLength = 80

var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	// It also matches XML processing instructions like <?xml ...?>.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	// reMarkdownHeading captures heading text so it can be rendered in bold
	// beneath the report's own heading.
	reMarkdownHeading = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+?)[ \t]*#*[ \t]*$`)

	reHorizontalRule    = regexp.MustCompile(`(?m)^[-*_]{3,}[ \t]*$`)
	reTripleBacktick    = regexp.MustCompile("```+")
	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)
	reRepeatedSeparator = regexp.MustCompile(`[-_]{2,}`)
)

// Assessment sanitizes model output for embedding in a Markdown report.
//
// The pipeline runs in this order:
//  1. Strip null bytes and ASCII control characters (except \n, \t)
//  2. Strip XML/HTML tags
//  3. Turn headings into bold lines
//  4. Remove horizontal rules
//  5. Collapse code fences to a single backtick
//  6. Collapse excessive newlines (3+ -> 2)
//  7. Trim, then truncate to MaxAssessmentLength
func Assessment(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reMarkdownHeading.ReplaceAllString(s, "**$1**")
	s = reHorizontalRule.ReplaceAllString(s, "")
	s = reTripleBacktick.ReplaceAllString(s, "`")
	s = reExcessiveNewlines.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	if len(s) > MaxAssessmentLength {
		s = truncateRunes(s, MaxAssessmentLength) + "..."
	}
	return s
}

// FileComponent reduces a batch id to [a-zA-Z0-9-_], collapsing runs of
// separators. Returns "batch" when nothing usable remains.
func FileComponent(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '/' || r == '.':
			b.WriteRune('_')
		}
	}

	s := reRepeatedSeparator.ReplaceAllStringFunc(b.String(), func(m string) string {
		return m[:1]
	})
	s = strings.Trim(s, "-_")
	if len(s) > MaxFileComponentLength {
		s = s[:MaxFileComponentLength]
	}
	if s == "" {
		return "batch"
	}
	return s
}

// stripControlChars removes ASCII control characters (0x00-0x1F) from the string,
// except for newline (0x0A) and tab (0x09) which are preserved.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
