package matrix

import (
	"strings"
	"testing"
)

func TestRenderHTML(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"plain", "Hi there!", "", false},
		{"action", "*waves* hello", "<em>waves</em> hello", true},
		{"bold", "**Rivanna** leaves", "<strong>Rivanna</strong> leaves", true},
		{"code", "try `/rivanna start`", "try <code>/rivanna start</code>", true},
		{"newline", "a\nb", "a<br>\nb", true},
		{"escapes", "tea & cake *now*", "tea &amp; cake <em>now</em>", true},
		{"unmatched", "5 * 3", "5 * 3", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := renderHTML(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("renderHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderHTML_Paragraphs(t *testing.T) {
	got, ok := renderHTML("**Memories (2)**\n\n1. tea\n2. Oslo")
	if !ok {
		t.Fatal("expected markup")
	}
	for _, want := range []string{"<p><strong>Memories (2)</strong></p>", "<ol>", "<li>tea</li>", "<li>Oslo</li>"} {
		if !strings.Contains(got, want) {
			t.Fatalf("renderHTML missing %q in %q", want, got)
		}
	}
}
