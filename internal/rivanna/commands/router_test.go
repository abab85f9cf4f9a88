package commands

import (
	"context"
	"errors"
	"testing"

	"maunium.net/go/mautrix/event"
)

func TestParse(t *testing.T) {
	r := NewRouter(Prefix)
	tests := []struct {
		input    string
		wantName string
		wantArgs int
		wantText string
		wantErr  error
	}{
		{input: "/rivanna start", wantName: "start"},
		{input: "  /rivanna STOP  ", wantName: "stop"},
		{input: "/rivanna teach Alex  likes tea", wantName: "teach", wantArgs: 3, wantText: "Alex  likes tea"},
		{input: "/rivanna forget 3", wantName: "forget", wantArgs: 1, wantText: "3"},
		{input: "/rivanna\tstatus", wantName: "status"},
		{input: "hello there", wantErr: ErrNotACommand},
		{input: "/rivannax start", wantErr: ErrNotACommand},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := r.Parse(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if cmd.Name != tt.wantName || len(cmd.Args) != tt.wantArgs || cmd.Text != tt.wantText {
				t.Fatalf("cmd = %+v", cmd)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	r := NewRouter(Prefix)
	cmd, err := r.Parse("/rivanna   ")
	if err == nil || errors.Is(err, ErrNotACommand) {
		t.Fatalf("Parse = %+v, %v; want empty command error", cmd, err)
	}
}

func TestRoute(t *testing.T) {
	r := NewRouter(Prefix)
	var got *Command
	r.Register("teach", func(_ context.Context, cmd *Command, _ *event.Event) (string, error) {
		got = cmd
		return "ok", nil
	})

	out, err := r.Route(context.Background(), "/rivanna teach the sky is blue", &event.Event{})
	if err != nil || out != "ok" {
		t.Fatalf("Route = %q, %v", out, err)
	}
	if got.Text != "the sky is blue" {
		t.Fatalf("Text = %q", got.Text)
	}

	if _, err := r.Route(context.Background(), "/rivanna dance", &event.Event{}); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("unknown command error = %v", err)
	}
}

func TestGetArg(t *testing.T) {
	cmd := &Command{Args: []string{"a", "b"}}
	if v, ok := cmd.GetArg(1); !ok || v != "b" {
		t.Fatalf("GetArg(1) = %q, %v", v, ok)
	}
	if _, ok := cmd.GetArg(2); ok {
		t.Fatal("GetArg(2) should be out of range")
	}
	if _, ok := cmd.GetArg(-1); ok {
		t.Fatal("GetArg(-1) should be out of range")
	}
}
