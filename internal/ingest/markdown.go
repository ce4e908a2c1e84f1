package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownToText reduces markdown to plain text by walking the goldmark AST.
// Block boundaries become newlines so label/value lines survive; table cells
// are joined with " | " per row so the unstructured miner can still anchor
// on the email cell.
func MarkdownToText(source []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	var out strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				out.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					out.WriteString("\n")
				}
			}
		case *ast.AutoLink:
			if entering {
				out.Write(node.URL(source))
			}
		case *ast.CodeSpan:
			if entering {
				out.Write(node.Text(source))
			}
		case *east.TableCell:
			if !entering && node.NextSibling() != nil {
				out.WriteString(" | ")
			}
		case *east.TableRow, *east.TableHeader:
			if !entering {
				out.WriteString("\n")
			}
		default:
			if !entering && isBlock(n) {
				out.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(collapseBlankLines(out.String()))
}

func isBlock(n ast.Node) bool {
	switch n.(type) {
	case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.Blockquote,
		*ast.CodeBlock, *ast.FencedCodeBlock, *ast.ThematicBreak:
		return true
	}
	return false
}

// collapseBlankLines squeezes runs of blank lines down to one.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
