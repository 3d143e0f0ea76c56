package models

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(highlighting.WithStyle("friendly")),
	),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// RenderText renders the text of a message into HTML. Assistant replies are treated as markdown, raw HTML
// inside them is dropped by the renderer. User messages are escaped and keep their line breaks.
func RenderText(m Message) (string, error) {
	if m.Role == RoleUser {
		return strings.ReplaceAll(html.EscapeString(m.Text), "\n", "<br>"), nil
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(m.Text), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
