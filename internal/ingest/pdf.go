package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ExtractPDFText extracts the text content of a PDF using pdfcpu. pdfcpu has
// no direct text API, so page content streams are extracted to a scratch
// directory and the text-showing operators are decoded from each stream.
func ExtractPDFText(data []byte) (string, error) {
	tempDir, err := os.MkdirTemp("", "colligo-pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	tempFile := filepath.Join(tempDir, "input.pdf")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF context: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(tempDir, "pages")
	os.MkdirAll(outDir, 0755)
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w", err)
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		pageTexts[pageNum] = decodeContentText(content)
	}

	var builder strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text := strings.TrimSpace(pageTexts[pageNum])
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(text)
	}
	return builder.String(), nil
}

var (
	// tjRe matches literal strings fed to the Tj / ' / TJ text-showing operators.
	tjRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*(?:Tj|')|\[((?:[^\[\]\\]|\\.)*)\]\s*TJ`)
	// litRe matches the literal string elements inside a TJ array.
	litRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
	// tdRe matches text positioning operators that start a new line.
	tdRe = regexp.MustCompile(`(?:T\*|TD|Td)\s*$`)
)

// decodeContentText pulls the shown text out of a page content stream. Each
// text-showing operator becomes a text run; positioning operators between
// runs become line breaks so labeled layouts keep their line structure.
func decodeContentText(stream []byte) string {
	var out strings.Builder
	for _, rawLine := range strings.Split(string(stream), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		matches := tjRe.FindAllStringSubmatch(line, -1)
		if len(matches) == 0 {
			if tdRe.MatchString(line) && out.Len() > 0 {
				out.WriteString("\n")
			}
			continue
		}
		for _, m := range matches {
			literal := m[1]
			if literal == "" && m[2] != "" {
				// TJ array: concatenate its literal elements, kerning ignored.
				for _, el := range litRe.FindAllStringSubmatch(m[2], -1) {
					literal += el[1]
				}
			}
			out.WriteString(unescapePDFString(literal))
		}
		out.WriteString("\n")
	}
	return out.String()
}

// unescapePDFString resolves the backslash escapes of a PDF literal string.
func unescapePDFString(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			out.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case '(', ')', '\\':
			out.WriteByte(s[i])
		default:
			out.WriteByte(s[i])
		}
	}
	return out.String()
}
