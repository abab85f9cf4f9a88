package llm

import (
	"errors"
	"testing"
)

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Result
		wantErr bool
	}{
		{name: "respond", raw: `{"shouldRespond":true,"response":"Hi!"}`, want: Result{ShouldRespond: true, Response: "Hi!"}},
		{name: "silent", raw: ` {"shouldRespond":false,"response":""} `, want: Result{}},
		{name: "empty", raw: "", wantErr: true},
		{name: "extra field", raw: `{"shouldRespond":false,"response":"","mood":"happy"}`, wantErr: true},
		{name: "array", raw: `[]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResult(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedOutput) {
					t.Fatalf("expected ErrMalformedOutput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *got != tt.want {
				t.Fatalf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestResultSchemaMap_IsFreshCopy(t *testing.T) {
	a := resultSchemaMap()
	a["type"] = "array"
	if b := resultSchemaMap(); b["type"] != "object" {
		t.Fatalf("schema map shared between calls: %v", b["type"])
	}
}
