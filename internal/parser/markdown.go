package parser

import (
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"documind/internal/models"
)

func parseMarkdown(filePath string) ([]models.Unit, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return markdownUnits(src)
}

// markdownUnits renders every block of a markdown document as plain text.
func markdownUnits(src []byte) ([]models.Unit, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var units []models.Unit
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		switch n.Kind() {
		case ast.KindParagraph, ast.KindHeading, ast.KindTextBlock:
			inlineText(n, src, &sb)
		case ast.KindCodeBlock, ast.KindFencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(src))
			}
		case east.KindTableHeader, east.KindTableRow:
			cells := make([]string, 0, n.ChildCount())
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				var cell strings.Builder
				inlineText(c, src, &cell)
				cells = append(cells, strings.TrimSpace(cell.String()))
			}
			sb.WriteString(strings.Join(cells, " | "))
		default:
			return ast.WalkContinue, nil
		}
		units = append(units, models.Unit{Text: sb.String()})
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

func inlineText(n ast.Node, src []byte, sb *strings.Builder) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(v.Value)
		case *ast.AutoLink:
			sb.Write(v.URL(src))
		default:
			inlineText(c, src, sb)
		}
	}
}
