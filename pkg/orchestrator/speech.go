package orchestrator

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var headingMarker = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)

// Sanitize strips markup the transcript does not render: emphasis
// asterisks and heading markers.
func Sanitize(reply string) string {
	s := strings.ReplaceAll(reply, "*", "")
	s = headingMarker.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

var markdown = goldmark.New()

// SpeechText renders markdown as plain text for synthesis. Code blocks and
// raw HTML are not read aloud.
func SpeechText(md string) string {
	src := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHTMLBlock, ast.KindRawHTML:
			return ast.WalkSkipChildren, nil
		}
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
