// ABOUTME: Markdown rendering for Matrix formatted_body fields.
// ABOUTME: Goldmark with table support; plain body stays the raw text.

package room

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// RenderMarkdown converts markdown text to the HTML used in formatted_body.
// On render failure the raw text is returned; a broken formatted body is
// worse than none.
func RenderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return text
	}
	return strings.TrimSpace(buf.String())
}
