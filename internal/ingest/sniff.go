package ingest

import (
	"bytes"
	"path/filepath"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Sniff classifies raw input bytes. The file name extension is authoritative
// when recognized; otherwise the content decides: a PDF magic header, then a
// delimiter-consistency check for CSV/TSV, then markdown markers, then plain
// text as the fallback.
func Sniff(fileName string, data []byte) Kind {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return KindPDF
	case ".md", ".markdown":
		return KindMarkdown
	case ".csv", ".tsv":
		return KindCSV
	case ".txt":
		return KindText
	}

	trimmed := bytes.TrimPrefix(data, utf8BOM)
	if bytes.HasPrefix(trimmed, []byte("%PDF-")) {
		return KindPDF
	}
	if looksTabular(trimmed) {
		return KindCSV
	}
	if looksMarkdown(trimmed) {
		return KindMarkdown
	}
	return KindText
}

// looksTabular reports whether the first non-empty lines share a consistent
// comma or tab field count of two or more. Labeled contact blocks ("Email:
// x@y.com") have no stable delimiter count and fall through to text.
func looksTabular(data []byte) bool {
	lines := sampleLines(data, 10)
	if len(lines) < 2 {
		return false
	}
	for _, sep := range []byte{'\t', ','} {
		counts := make(map[int]int)
		for _, line := range lines {
			counts[strings.Count(line, string(sep))]++
		}
		for fields, n := range counts {
			if fields >= 1 && n >= len(lines)-1 && n >= 2 {
				return true
			}
		}
	}
	return false
}

// looksMarkdown counts block-level markdown markers across the sampled lines.
func looksMarkdown(data []byte) bool {
	lines := sampleLines(data, 20)
	markers := 0
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#"),
			strings.HasPrefix(line, "|"),
			strings.HasPrefix(line, "- "),
			strings.HasPrefix(line, "* "),
			strings.HasPrefix(line, "```"),
			strings.Contains(line, "]("):
			markers++
		}
	}
	return markers >= 2
}

// sampleLines returns up to max non-empty leading lines, trimmed.
func sampleLines(data []byte, max int) []string {
	var lines []string
	for _, raw := range strings.Split(normalizeNewlines(string(data)), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == max {
			break
		}
	}
	return lines
}
