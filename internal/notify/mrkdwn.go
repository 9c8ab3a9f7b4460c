package notify

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
)

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// ToMrkdwn converts CommonMark to Slack mrkdwn.
func ToMrkdwn(markdown string) string {
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	w := &mrkdwnWriter{source: source}
	w.blocks(doc)
	return strings.TrimSpace(w.b.String())
}

type mrkdwnWriter struct {
	source []byte
	b      strings.Builder
}

func (w *mrkdwnWriter) blocks(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.block(n)
	}
}

func (w *mrkdwnWriter) block(n ast.Node) {
	switch n := n.(type) {
	case *ast.Heading:
		w.b.WriteString("*")
		w.inlines(n)
		w.b.WriteString("*\n\n")
	case *ast.Paragraph, *ast.TextBlock:
		w.inlines(n)
		w.b.WriteString("\n\n")
	case *ast.List:
		w.list(n)
		w.b.WriteString("\n")
	case *ast.Blockquote:
		inner := &mrkdwnWriter{source: w.source}
		inner.blocks(n)
		for _, line := range strings.Split(strings.TrimSpace(inner.b.String()), "\n") {
			w.b.WriteString("> " + line + "\n")
		}
		w.b.WriteString("\n")
	case *ast.FencedCodeBlock:
		w.code(n)
	case *ast.CodeBlock:
		w.code(n)
	case *ast.ThematicBreak:
		w.b.WriteString("---\n\n")
	default:
		w.blocks(n)
	}
}

func (w *mrkdwnWriter) code(n ast.Node) {
	w.b.WriteString("```\n")
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		w.b.Write(seg.Value(w.source))
	}
	w.b.WriteString("```\n\n")
}

func (w *mrkdwnWriter) list(l *ast.List) {
	num := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		if l.IsOrdered() {
			w.b.WriteString(strconv.Itoa(num) + ". ")
			num++
		} else {
			w.b.WriteString("• ")
		}
		inner := &mrkdwnWriter{source: w.source}
		inner.blocks(item)
		body := strings.TrimSpace(inner.b.String())
		w.b.WriteString(strings.ReplaceAll(body, "\n", "\n    "))
		w.b.WriteString("\n")
	}
}

func (w *mrkdwnWriter) inlines(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.inline(n)
	}
}

func (w *mrkdwnWriter) inline(n ast.Node) {
	switch n := n.(type) {
	case *ast.Text:
		w.b.WriteString(escaper.Replace(string(n.Segment.Value(w.source))))
		if n.HardLineBreak() || n.SoftLineBreak() {
			w.b.WriteString("\n")
		}
	case *ast.String:
		w.b.WriteString(escaper.Replace(string(n.Value)))
	case *ast.Emphasis:
		mark := "_"
		if n.Level >= 2 {
			mark = "*"
		}
		w.b.WriteString(mark)
		w.inlines(n)
		w.b.WriteString(mark)
	case *extast.Strikethrough:
		w.b.WriteString("~")
		w.inlines(n)
		w.b.WriteString("~")
	case *ast.CodeSpan:
		w.b.WriteString("`")
		w.inlines(n)
		w.b.WriteString("`")
	case *ast.Link:
		label := &mrkdwnWriter{source: w.source}
		label.inlines(n)
		w.b.WriteString("<" + string(n.Destination) + "|" + label.b.String() + ">")
	case *ast.AutoLink:
		w.b.WriteString("<" + string(n.URL(w.source)) + ">")
	case *ast.Image:
		w.b.WriteString("<" + string(n.Destination) + ">")
	default:
		w.inlines(n)
	}
}
