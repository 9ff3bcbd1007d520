package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/oasisdevteambal/regula/internal/model"
)

// MarkdownParser handles Markdown files using goldmark. Headings, tables
// and lists become layout hints; everything else flows through as prose.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(src))

	var w hintWriter
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			w.block(string(node.Text(src)), model.HintHeading, node.Level)
		case *east.Table:
			w.block(mdTableText(node, src), model.HintTable, 0)
		case *ast.List:
			w.block(mdListText(node, src), model.HintList, 0)
		default:
			w.para(extractText(n, src))
		}
	}

	return w.document(titleFromFilename(filename)), nil
}

// mdTableText flattens a table into pipe-delimited rows, one row per line.
func mdTableText(table ast.Node, src []byte) string {
	var rows []string
	for r := table.FirstChild(); r != nil; r = r.NextSibling() {
		var cells []string
		for c := r.FirstChild(); c != nil; c = c.NextSibling() {
			cells = append(cells, extractText(c, src))
		}
		rows = append(rows, strings.Join(cells, " | "))
	}
	return strings.Join(rows, "\n")
}

// mdListText flattens a list into one item per line with its marker.
func mdListText(list *ast.List, src []byte) string {
	var items []string
	idx := list.Start
	if idx == 0 {
		idx = 1
	}
	for it := list.FirstChild(); it != nil; it = it.NextSibling() {
		t := extractText(it, src)
		if t == "" {
			continue
		}
		if list.IsOrdered() {
			items = append(items, fmt.Sprintf("%d. %s", idx, t))
			idx++
		} else {
			items = append(items, "- "+t)
		}
	}
	return strings.Join(items, "\n")
}

// extractText gets the text content of a goldmark AST node. Leaf blocks
// such as code fences carry their content in Lines; everything else is
// gathered from inline children, so text is never emitted twice.
func extractText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && n.FirstChild() == nil {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
			continue
		}
		s := extractText(c, src)
		if s == "" {
			continue
		}
		if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteByte('\n')
		}
		buf.WriteString(s)
	}
	return strings.TrimSpace(buf.String())
}
