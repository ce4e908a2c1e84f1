package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	reportFontSize = 9.0
	tableFontSize  = 8.0
	tableRowHeight = 6.0
	// Usable width between the 10mm page margins on A4.
	tableWidth = 190.0
)

// renderPDF draws the composed markdown report into a PDF document. It
// handles only the node kinds the composer emits: headings, paragraphs,
// emphasis, lists, thematic breaks and tables.
func renderPDF(markdown string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()
	pdf.SetFont("Arial", "", reportFontSize)

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	r := &reportRenderer{pdf: pdf, source: source}
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, fmt.Errorf("failed to walk report tree: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

type reportRenderer struct {
	pdf    *fpdf.Fpdf
	source []byte
	bold   bool
	italic bool
	inList bool
}

func (r *reportRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		r.handleHeading(node, entering)
	case *ast.Paragraph:
		if !entering && !r.inList {
			r.pdf.Ln(7)
		}
	case *ast.Text:
		if entering {
			r.pdf.Write(5, string(node.Text(r.source)))
		}
	case *ast.Emphasis:
		if node.Level >= 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.applyFont()
	case *ast.List:
		if entering {
			r.inList = true
		} else {
			r.inList = false
			r.pdf.Ln(8)
		}
	case *ast.ListItem:
		if entering {
			r.pdf.Ln(5)
			r.pdf.SetX(14)
			r.pdf.Write(5, "- ")
		}
	case *ast.ThematicBreak:
		if entering {
			r.pdf.Ln(4)
			r.pdf.Line(10, r.pdf.GetY(), 200, r.pdf.GetY())
			r.pdf.Ln(4)
		}
	case *extast.Table:
		if entering {
			r.renderTable(r.collectRows(node))
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (r *reportRenderer) handleHeading(n *ast.Heading, entering bool) {
	if !entering {
		r.pdf.Ln(7)
		r.applyFont()
		return
	}
	r.pdf.Ln(5)
	size := 14.0
	switch {
	case n.Level == 2:
		size = 12
	case n.Level >= 3:
		size = 10
	}
	r.pdf.SetFont("Arial", "B", size)
}

// applyFont restores the body font with the current emphasis state.
func (r *reportRenderer) applyFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont("Arial", style, reportFontSize)
}

// collectRows flattens a table into rows of cell text. The header node
// holds its cells directly, the same way a body row does.
func (r *reportRenderer) collectRows(table *extast.Table) [][]string {
	var rows [][]string
	for child := table.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.(type) {
		case *extast.TableHeader, *extast.TableRow:
		default:
			continue
		}
		var row []string
		for c := child.FirstChild(); c != nil; c = c.NextSibling() {
			if cell, ok := c.(*extast.TableCell); ok {
				row = append(row, string(cell.Text(r.source)))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func (r *reportRenderer) renderTable(rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	r.pdf.SetFont("Arial", "", tableFontSize)
	widths := r.columnWidths(rows)

	r.pdf.Ln(2)
	for i, row := range rows {
		if i == 0 {
			r.pdf.SetFont("Arial", "B", tableFontSize)
			r.pdf.SetFillColor(230, 230, 230)
		} else {
			r.pdf.SetFont("Arial", "", tableFontSize)
			r.pdf.SetFillColor(255, 255, 255)
		}
		for j, width := range widths {
			cell := ""
			if j < len(row) {
				cell = r.fitCell(row[j], width-2)
			}
			r.pdf.CellFormat(width, tableRowHeight, cell, "1", 0, "L", i == 0, 0, "")
		}
		r.pdf.Ln(-1)
	}
	r.pdf.Ln(4)
	r.applyFont()
}

// columnWidths sizes columns by their widest cell, then scales the set to
// fill the page exactly.
func (r *reportRenderer) columnWidths(rows [][]string) []float64 {
	cols := len(rows[0])
	widths := make([]float64, cols)
	for _, row := range rows {
		for j, cell := range row {
			if j >= cols {
				break
			}
			if w := r.pdf.GetStringWidth(cell) + 4; w > widths[j] {
				widths[j] = w
			}
		}
	}

	total := 0.0
	for j := range widths {
		if widths[j] < 14 {
			widths[j] = 14
		}
		total += widths[j]
	}
	scale := tableWidth / total
	for j := range widths {
		widths[j] *= scale
	}
	return widths
}

// fitCell truncates cell text that would overflow its column.
func (r *reportRenderer) fitCell(s string, width float64) string {
	if r.pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 3 && r.pdf.GetStringWidth(s+"...") > width {
		s = s[:len(s)-1]
	}
	return s + "..."
}
