package conversation

import "testing"

func TestHeuristicCounter(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"You are Alex.", 4},
	}
	var c HeuristicCounter
	for _, tt := range tests {
		if got := c.CountTokens(tt.text); got != tt.want {
			t.Errorf("CountTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestHistoryText(t *testing.T) {
	got := HistoryText([]Turn{User("a"), Assistant("b"), User("c")})
	if got != "a\nb\nc" {
		t.Fatalf("got %q", got)
	}
	if HistoryText(nil) != "" {
		t.Fatal("expected empty string for no turns")
	}
}
