package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/bdobrica/rivanna/internal/rivanna/conversation"
)

const (
	// DefaultModel is used when neither the request nor the config names a
	// model. It must support strict json_schema response formats.
	DefaultModel = "gpt-4o"

	defaultTimeout = 60 * time.Second
)

// OpenAIConfig holds connection settings for OpenAICompleter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string        // empty selects api.openai.com
	Model   string        // default model when Request.Model is empty
	Timeout time.Duration // per-request HTTP timeout

	// HTTPClient overrides the client built from Timeout. Tests point it at
	// an httptest.Server.
	HTTPClient *http.Client
}

// OpenAICompleter implements Completer against the OpenAI chat completions
// API using a strict JSON-schema response format.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

var _ Completer = (*OpenAICompleter)(nil)

// NewOpenAICompleter returns a Completer for cfg. The SDK's built-in retries
// are disabled; callers decide how often to try.
func NewOpenAICompleter(cfg OpenAIConfig) *OpenAICompleter {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAICompleter{client: &client, model: model}
}

// Complete sends req and decodes the structured reply.
func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	msgs, err := toOpenAIMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(model),
		Messages:         msgs,
		Temperature:      param.NewOpt(req.Temperature),
		PresencePenalty:  param.NewOpt(req.PresencePenalty),
		FrequencyPenalty: param.NewOpt(req.FrequencyPenalty),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "persona_reply",
					Description: param.NewOpt("Decide whether to reply to the conversation and with what."),
					Schema:      resultSchemaMap(),
					Strict:      param.NewOpt(true),
				},
			},
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrRateLimit, err)
		}
		return nil, fmt.Errorf("llm openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedOutput)
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%w: refused: %s", ErrMalformedOutput, choice.Message.Refusal)
	}

	res, err := DecodeResult(choice.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("llm openai: finish_reason=%s: %w", choice.FinishReason, err)
	}
	res.Usage = Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return res, nil
}

func toOpenAIMessages(turns []conversation.Turn) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for i, t := range turns {
		switch t.Role {
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(t.Content))
		case conversation.RoleUser:
			out = append(out, openai.UserMessage(t.Content))
		case conversation.RoleAssistant:
			out = append(out, openai.AssistantMessage(t.Content))
		default:
			return nil, fmt.Errorf("llm openai: turn %d has unknown role %q", i, t.Role)
		}
	}
	return out, nil
}
