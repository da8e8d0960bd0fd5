package profile

import (
	"strings"
)

const sectionMarker = "## "

// InsertUnderSection adds line to the "## section" block of a prompt
// document, creating the section at the end when it does not exist. The
// document is returned unchanged, with false, when the exact line is already
// present anywhere in it.
func InsertUnderSection(doc, section, line string) (string, bool) {
	line = strings.TrimSpace(line)
	section = strings.TrimSpace(section)
	if line == "" {
		return doc, false
	}

	lines := strings.Split(doc, "\n")
	for _, l := range lines {
		if strings.TrimSpace(l) == line {
			return doc, false
		}
	}

	start := -1
	for i, l := range lines {
		if isHeading(l) && strings.EqualFold(headingTitle(l), section) {
			start = i
			break
		}
	}

	if start < 0 {
		var b strings.Builder
		trimmed := strings.TrimRight(doc, "\n")
		if trimmed != "" {
			b.WriteString(trimmed)
			b.WriteString("\n\n")
		}
		b.WriteString(sectionMarker)
		b.WriteString(section)
		b.WriteString("\n\n")
		b.WriteString(line)
		b.WriteString("\n")
		return b.String(), true
	}

	// Insert after the last non-blank line of the section body.
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if isHeading(lines[i]) {
			end = i
			break
		}
	}
	at := start + 1
	for i := end - 1; i > start; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			at = i + 1
			break
		}
	}
	insert := []string{line}
	if at == start+1 {
		// empty section body: keep a blank line under the heading
		insert = []string{"", line}
		if at < len(lines) && strings.TrimSpace(lines[at]) == "" {
			at++
			insert = []string{line}
		}
	}

	out := make([]string, 0, len(lines)+len(insert))
	out = append(out, lines[:at]...)
	out = append(out, insert...)
	out = append(out, lines[at:]...)
	return strings.Join(out, "\n"), true
}

// Sections lists the headings of a prompt document in order.
func Sections(doc string) []string {
	var out []string
	for _, l := range strings.Split(doc, "\n") {
		if isHeading(l) {
			out = append(out, headingTitle(l))
		}
	}
	return out
}

func isHeading(l string) bool {
	return strings.HasPrefix(l, sectionMarker)
}

func headingTitle(l string) string {
	return strings.TrimSpace(strings.TrimPrefix(l, sectionMarker))
}
