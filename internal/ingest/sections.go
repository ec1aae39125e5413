package ingest

import (
	"regexp"
	"strings"
)

// Section is a labeled span of a normalized document. Content ahead of the
// first H2 heading carries an empty title.
type Section struct {
	Title string
	Body  string
}

// Matches "## Heading" but not "###" or deeper.
var h2RE = regexp.MustCompile(`^##\s+[^#]`)

// SplitSections divides text into sections along H2 heading lines. Sections
// whose body is empty after trimming are dropped; source order is preserved.
func SplitSections(text string) []Section {
	var sections []Section
	var title string
	var body []string

	flush := func() {
		b := strings.TrimSpace(strings.Join(body, "\n"))
		if b != "" {
			sections = append(sections, Section{Title: title, Body: b})
		}
		body = body[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		if h2RE.MatchString(line) {
			flush()
			title = strings.TrimSpace(strings.TrimLeft(line, "#"))
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}
