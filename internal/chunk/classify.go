package chunk

import (
	"regexp"
	"strings"
	"unicode"
)

// lineKind classifies a single line of normalized text.
type lineKind int

const (
	lineText lineKind = iota
	lineBlank
	lineHeader
	lineSectionMarker
	lineTableStart
)

// Regex patterns for line classification.
var (
	// Matches markdown headings: # Title, ## Title, etc.
	markdownHeadingPattern = regexp.MustCompile(`^#{1,6}\s+\S`)

	// Matches numbered section headings: "1. Overview", "2.3 Results", "4)".
	numberedHeadingPattern = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+\S`)

	// Matches section markers: horizontal rules and setext underlines.
	sectionMarkerPattern = regexp.MustCompile(`^(={3,}|-{3,}|\*{3,}|_{3,})\s*$`)

	// Matches columnar rows: three or more cells separated by runs of
	// two-plus spaces or tabs.
	columnarPattern = regexp.MustCompile(`\S+(\s{2,}|\t+)\S+(\s{2,}|\t+)\S+`)
)

// maxHeaderLineLen bounds heuristic header detection. Long lines are prose
// even when they happen to be upper case or end with a colon.
const maxHeaderLineLen = 80

// classifyLine determines the structural role of a line.
func classifyLine(line string) lineKind {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return lineBlank
	}
	if sectionMarkerPattern.MatchString(trimmed) {
		return lineSectionMarker
	}
	if isTableLine(trimmed) {
		return lineTableStart
	}
	if isHeaderLine(trimmed) {
		return lineHeader
	}
	return lineText
}

// isHeaderLine reports whether a line looks like a section header:
// a markdown heading, a numbered heading, an ALL-CAPS line, or a short
// "Title Case:" label.
func isHeaderLine(trimmed string) bool {
	if markdownHeadingPattern.MatchString(trimmed) {
		return true
	}
	if len(trimmed) > maxHeaderLineLen {
		return false
	}
	if numberedHeadingPattern.MatchString(trimmed) && startsUpper(headingTitle(trimmed)) {
		return true
	}
	if isAllCaps(trimmed) {
		return true
	}
	if isTitleCaseLabel(trimmed) {
		return true
	}
	return false
}

// headingTitle strips a leading numbering prefix ("2.3 ", "4) ") from a line.
func headingTitle(trimmed string) string {
	loc := numberedHeadingPattern.FindStringIndex(trimmed)
	if loc == nil {
		return trimmed
	}
	rest := trimmed
	for i, r := range rest {
		if unicode.IsLetter(r) {
			return rest[i:]
		}
	}
	return rest
}

// startsUpper reports whether the first letter of s is upper case.
func startsUpper(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r)
		}
	}
	return false
}

// isAllCaps reports whether a line consists of upper-case letters (plus
// digits and punctuation) with at least three letters total.
func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 3
}

// isTitleCaseLabel reports whether a line is a short "Title Case:" label.
func isTitleCaseLabel(s string) bool {
	if !strings.HasSuffix(s, ":") {
		return false
	}
	body := strings.TrimSuffix(s, ":")
	words := strings.Fields(body)
	if len(words) == 0 || len(words) > 6 {
		return false
	}
	return startsUpper(words[0])
}

// isTableLine reports whether a line starts or continues tabular content:
// pipe-delimited, columnar, or CSV-like rows.
func isTableLine(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	// Pipe-delimited: at least two pipes ("| a | b |" or "a | b | c").
	if strings.Count(trimmed, "|") >= 2 {
		return true
	}
	if columnarPattern.MatchString(trimmed) {
		return true
	}
	return isCSVLine(trimmed)
}

// isCSVLine reports whether a line looks like a CSV record: two or more
// commas splitting short cells, none of which read like prose.
func isCSVLine(trimmed string) bool {
	if strings.Count(trimmed, ",") < 2 {
		return false
	}
	cells := strings.Split(trimmed, ",")
	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		if len(cell) > 40 || strings.Count(cell, " ") > 3 {
			return false
		}
	}
	return true
}

// isTableContinuation reports whether a line extends a table block.
// Separator rows (|---|---|) and indented continuations count.
func isTableContinuation(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if isTableLine(trimmed) {
		return true
	}
	// Markdown alignment rows reduce to pipes, dashes and colons.
	if strings.Trim(trimmed, "|-: ") == "" {
		return true
	}
	// Indented wrap of a previous row.
	return line != trimmed && !isHeaderLine(trimmed)
}
