// Package llm is the boundary to the chat-completion service. It turns an
// ordered list of conversation turns into a structured decision: whether the
// persona should speak, and what it says.
//
// Retrying is the caller's job. Providers report each failure once, wrapped
// around one of the sentinel errors below where the cause is known.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdobrica/rivanna/internal/rivanna/conversation"
)

// ErrRateLimit is returned when the upstream API reports HTTP 429.
var ErrRateLimit = errors.New("llm: upstream rate limit exceeded")

// ErrMalformedOutput is returned when the model's reply cannot be
// interpreted as a Result: a refusal, invalid JSON, a schema violation, or
// a decision to respond without a response.
var ErrMalformedOutput = errors.New("llm: malformed response from model")

// ErrTokenBudgetExceeded is returned when a scope has used its daily token
// allocation.
var ErrTokenBudgetExceeded = errors.New("llm: daily token budget exceeded")

// Request is the input to a single completion call.
type Request struct {
	Model            string
	Messages         []conversation.Turn
	Temperature      float64
	MaxTokens        int
	PresencePenalty  float64
	FrequencyPenalty float64
}

// Usage reports the tokens billed for a call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the structured output the model is asked to produce.
type Result struct {
	// ShouldRespond is false when the persona chooses to stay silent.
	ShouldRespond bool `json:"shouldRespond"`
	// Response is the text to post. Required when ShouldRespond is true.
	Response string `json:"response"`

	Usage Usage `json:"-"`
}

// Validate checks the cross-field constraint the JSON schema cannot express.
func (r *Result) Validate() error {
	if r.ShouldRespond && r.Response == "" {
		return fmt.Errorf("%w: shouldRespond is true but response is empty", ErrMalformedOutput)
	}
	return nil
}

// Completer performs one completion call.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}
