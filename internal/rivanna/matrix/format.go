package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

// markdown renders persona replies. Raw HTML in the input is omitted and
// single newlines become line breaks, as chat users expect.
var markdown = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

// renderHTML converts the markdown personas use (*actions*, **emphasis**,
// `code`, lists, line breaks) into Matrix HTML. It reports false when text
// has no markup worth formatting.
func renderHTML(text string) (string, bool) {
	if !strings.ContainsAny(text, "*_`\n#[>") {
		return "", false
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", false
	}
	out := strings.TrimSpace(buf.String())
	// A lone paragraph is sent without its wrapper.
	if strings.Count(out, "<p>") == 1 && strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") {
		out = strings.TrimSuffix(strings.TrimPrefix(out, "<p>"), "</p>")
	}
	return out, true
}
