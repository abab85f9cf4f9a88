package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bdobrica/rivanna/internal/rivanna/conversation"
	"github.com/bdobrica/rivanna/internal/rivanna/llm"
)

// chatServer returns a server that answers every chat completion with
// content and records the last request body.
func chatServer(t *testing.T, status int, content string, lastBody *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if lastBody != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, lastBody)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCompleter(srv *httptest.Server) *llm.OpenAICompleter {
	return llm.NewOpenAICompleter(llm.OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL + "/v1/",
		HTTPClient: srv.Client(),
	})
}

func TestOpenAICompleter_DecodesStructuredReply(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, http.StatusOK, `{"shouldRespond":true,"response":"Hi!"}`, &body)

	res, err := newCompleter(srv).Complete(context.Background(), llm.Request{
		Model:            "gpt-4o-mini",
		Messages:         []conversation.Turn{conversation.System("You are Alex."), conversation.User("hello")},
		Temperature:      0.4,
		MaxTokens:        500,
		PresencePenalty:  0.3,
		FrequencyPenalty: -0.3,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !res.ShouldRespond || res.Response != "Hi!" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Usage.TotalTokens != 15 {
		t.Fatalf("usage = %+v, want total 15", res.Usage)
	}

	if body["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", body["model"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages in request, got %d", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v", first["role"])
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Errorf("response_format = %v", body["response_format"])
	}
}

func TestOpenAICompleter_Silence(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"shouldRespond":false,"response":""}`, nil)
	res, err := newCompleter(srv).Complete(context.Background(), llm.Request{
		Messages: []conversation.Turn{conversation.User("lol")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.ShouldRespond {
		t.Fatalf("expected silence, got %+v", res)
	}
}

func TestOpenAICompleter_MalformedOutput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "Hi there!"},
		{"missing field", `{"response":"Hi"}`},
		{"respond without text", `{"shouldRespond":true,"response":""}`},
		{"wrong type", `{"shouldRespond":"yes","response":"Hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, http.StatusOK, tt.content, nil)
			_, err := newCompleter(srv).Complete(context.Background(), llm.Request{
				Messages: []conversation.Turn{conversation.User("hello")},
			})
			if !errors.Is(err, llm.ErrMalformedOutput) {
				t.Fatalf("expected ErrMalformedOutput, got %v", err)
			}
		})
	}
}

func TestOpenAICompleter_RateLimit(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, "", nil)
	_, err := newCompleter(srv).Complete(context.Background(), llm.Request{
		Messages: []conversation.Turn{conversation.User("hello")},
	})
	if !errors.Is(err, llm.ErrRateLimit) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
}

func TestOpenAICompleter_RejectsUnknownRole(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"shouldRespond":false,"response":""}`, nil)
	_, err := newCompleter(srv).Complete(context.Background(), llm.Request{
		Messages: []conversation.Turn{{Role: "tool", Content: "x"}},
	})
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}
