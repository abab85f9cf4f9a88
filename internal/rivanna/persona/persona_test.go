package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantName  string
		wantEnter string
		wantErr   string
	}{
		{
			name:      "defaults",
			yaml:      "prompt: You are Alex.\n",
			wantName:  "Rivanna",
			wantEnter: "Rivanna walks in and says:",
		},
		{
			name:      "named",
			yaml:      "name: Alex\nprompt: You are Alex.\n",
			wantName:  "Alex",
			wantEnter: "Alex walks in and says:",
		},
		{
			name:      "explicit cue",
			yaml:      "name: Alex\nprompt: You are Alex.\ncues:\n  enter: \"Alex bursts in:\"\n",
			wantName:  "Alex",
			wantEnter: "Alex bursts in:",
		},
		{name: "missing prompt", yaml: "name: Alex\n", wantErr: "prompt must not be empty"},
		{name: "bad yaml", yaml: "prompt: [unterminated", wantErr: "persona parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Parse error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if p.Name != tt.wantName || p.Cues.Enter != tt.wantEnter {
				t.Fatalf("persona = %+v", p)
			}
			if p.Cues.Leave == "" || p.Cues.Reset == "" {
				t.Fatalf("default cues missing: %+v", p.Cues)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte("name: Alex\nprompt: You are Alex.\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if p.EnterChat() != "*Alex enters chat*" || p.LeaveChat() != "*Alex leaves chat*" {
		t.Fatalf("notices = %q / %q", p.EnterChat(), p.LeaveChat())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
