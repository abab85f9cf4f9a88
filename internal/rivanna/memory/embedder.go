package memory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bdobrica/rivanna/common/retry"
)

// DefaultEmbeddingModel matches EmbeddingDim.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedderConfig holds connection settings for OpenAIEmbedder.
type OpenAIEmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string // DefaultEmbeddingModel when empty
	Dim        int    // EmbeddingDim when zero
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder returns an embedder for cfg. SDK retries are disabled;
// wrap it in a CachingEmbedder to retry.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	dim := cfg.Dim
	if dim <= 0 {
		dim = EmbeddingDim
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

	return &OpenAIEmbedder{client: &client, model: model, dim: dim}
}

// Embed returns the embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          openai.EmbeddingModel(e.model),
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Dimensions:     openai.Int(int64(e.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder openai: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedder openai: empty data in response")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, f := range raw {
		vec[i] = float32(f)
	}
	return vec, nil
}

// CachingEmbedder memoises an Embedder by exact input text and retries the
// underlying call on failure.
type CachingEmbedder struct {
	inner  Embedder
	cache  Cache
	retry  retry.Config
	logger *slog.Logger
}

var _ Embedder = (*CachingEmbedder)(nil)

// DefaultEmbedRetry is three attempts with a fixed 100ms delay.
var DefaultEmbedRetry = retry.Fixed(3, 100*time.Millisecond)

// NewCachingEmbedder wraps inner. A nil cache selects a MemoryCache; a zero
// retry config selects DefaultEmbedRetry.
func NewCachingEmbedder(inner Embedder, cache Cache, rc retry.Config, logger *slog.Logger) *CachingEmbedder {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if rc.MaxAttempts == 0 {
		rc = DefaultEmbedRetry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingEmbedder{inner: inner, cache: cache, retry: rc, logger: logger}
}

// Embed returns the cached vector for text or computes and caches it.
func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		return vec, nil
	}

	var vec []float32
	err := retry.Do(ctx, e.retry, func() error {
		v, err := e.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.cache.Put(text, vec)
	e.logger.Debug("embedder: cached", "text_len", len(text), "dim", len(vec))
	return vec, nil
}
