// Package chat turns a burst of room messages into the persona's reply:
// the BurstCollector coalesces messages, the RetrievalAugmenter recalls
// relevant memories, and the ContextAssembler fits everything into the
// model's context window and calls the completion API.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bdobrica/rivanna/common/retry"
	"github.com/bdobrica/rivanna/common/trace"
	"github.com/bdobrica/rivanna/internal/rivanna/conversation"
	"github.com/bdobrica/rivanna/internal/rivanna/llm"
)

// Defaults for AssemblerConfig.
const (
	DefaultContextMax       = 16000
	DefaultReservedResponse = 500
	DefaultSafetyMargin     = 500
	DefaultPurgeCount       = 10
	DefaultClarityWindow    = 3
	DefaultSpeculativeModel = "gpt-4o-mini"
)

// DefaultCompletionRetry is one attempt plus three retries, 100ms apart.
var DefaultCompletionRetry = retry.Fixed(4, 100*time.Millisecond)

// AssemblerConfig tunes ContextAssembler. Zero sizing fields and a zero
// Retry select the defaults; sampling fields are sent as given.
type AssemblerConfig struct {
	Model            string // empty uses the completer's default
	SpeculativeModel string // cheaper model for the self-consistency pass

	ContextMax       int // hard input token ceiling
	ReservedResponse int // tokens kept free for the reply
	SafetyMargin     int // slack for estimation error
	PurgeCount       int // turns dropped when over budget
	ClarityWindow    int // recent turns kept after the system reminder

	Temperature      float64
	MaxTokens        int
	PresencePenalty  float64
	FrequencyPenalty float64

	Retry retry.Config
}

// DefaultAssemblerConfig returns the sampling parameters the persona was
// tuned with.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		SpeculativeModel: DefaultSpeculativeModel,
		ContextMax:       DefaultContextMax,
		ReservedResponse: DefaultReservedResponse,
		SafetyMargin:     DefaultSafetyMargin,
		PurgeCount:       DefaultPurgeCount,
		ClarityWindow:    DefaultClarityWindow,
		Temperature:      0.4,
		MaxTokens:        500,
		PresencePenalty:  0.3,
		FrequencyPenalty: -0.3,
		Retry:            DefaultCompletionRetry,
	}
}

// ContextAssembler keeps a Buffer within the token budget, lays it out for
// the model, and performs the completion call.
type ContextAssembler struct {
	completer llm.Completer
	tokens    conversation.TokenCounter
	cfg       AssemblerConfig
	logger    *slog.Logger
}

// NewContextAssembler returns an assembler. A nil counter selects the
// heuristic; a nil logger the default.
func NewContextAssembler(completer llm.Completer, tokens conversation.TokenCounter, cfg AssemblerConfig, logger *slog.Logger) *ContextAssembler {
	def := DefaultAssemblerConfig()
	if cfg.ContextMax <= 0 {
		cfg.ContextMax = def.ContextMax
	}
	if cfg.ReservedResponse <= 0 {
		cfg.ReservedResponse = def.ReservedResponse
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = def.SafetyMargin
	}
	if cfg.PurgeCount <= 0 {
		cfg.PurgeCount = def.PurgeCount
	}
	if cfg.ClarityWindow <= 0 {
		cfg.ClarityWindow = def.ClarityWindow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	if tokens == nil {
		tokens = conversation.HeuristicCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextAssembler{completer: completer, tokens: tokens, cfg: cfg, logger: logger}
}

// EstimateTokens returns the input cost of buf plus extra. The system turn
// is counted twice because Order may repeat it as a reminder.
func (a *ContextAssembler) EstimateTokens(buf *conversation.Buffer, extra string) int {
	system := buf.OriginalContext()
	return 2*a.tokens.CountTokens(system.Content) +
		a.tokens.CountTokens(conversation.HistoryText(buf.History())) +
		a.tokens.CountTokens(extra)
}

func (a *ContextAssembler) overBudget(estimate int) bool {
	return estimate+a.cfg.ReservedResponse+a.cfg.SafetyMargin > a.cfg.ContextMax
}

// EnforceBudget purges the oldest turns of buf once if the estimate does not
// fit, and returns how many were removed. A history that still does not fit
// is sent anyway.
func (a *ContextAssembler) EnforceBudget(ctx context.Context, buf *conversation.Buffer, extra string) int {
	estimate := a.EstimateTokens(buf, extra)
	if !a.overBudget(estimate) {
		return 0
	}

	purged := buf.PurgeOldest(a.cfg.PurgeCount)
	after := a.EstimateTokens(buf, extra)
	log := trace.Logger(ctx, a.logger)
	log.Info("assembler: purged history to fit budget",
		"purged", purged, "before", estimate, "after", after, "context_max", a.cfg.ContextMax)
	if a.overBudget(after) {
		log.Warn("assembler: still over budget after purge, sending anyway",
			"estimate", after, "context_max", a.cfg.ContextMax)
	}
	return purged
}

// Order lays out the prompt. With more than ClarityWindow turns of history
// the system turn is repeated right before the memories and the most recent
// turns:
//
//	[system, older..., system, extra, recent...]
//
// otherwise the layout is [system, extra, history...].
func (a *ContextAssembler) Order(buf *conversation.Buffer, extra string) []conversation.Turn {
	system := buf.OriginalContext()
	history := buf.History()
	extraTurn := conversation.System(extra)
	k := a.cfg.ClarityWindow

	out := make([]conversation.Turn, 0, len(history)+3)
	if len(history) > k {
		split := len(history) - k
		out = append(out, system)
		out = append(out, history[:split]...)
		out = append(out, system, extraTurn)
		out = append(out, history[split:]...)
		return out
	}
	out = append(out, system, extraTurn)
	return append(out, history...)
}

// Complete fits buf to the budget, calls the model, and on a decision to
// respond appends the reply to buf as an assistant turn.
func (a *ContextAssembler) Complete(ctx context.Context, buf *conversation.Buffer, extra string) (*llm.Result, error) {
	return a.complete(ctx, buf, extra, a.cfg.Model)
}

// Speculate runs the same procedure on the speculative model and returns the
// predicted reply, or "" when the model would stay silent. buf should be a
// clone; it is purged and appended to like any other buffer.
func (a *ContextAssembler) Speculate(ctx context.Context, buf *conversation.Buffer, extra string) (string, error) {
	model := a.cfg.SpeculativeModel
	if model == "" {
		model = a.cfg.Model
	}
	res, err := a.complete(ctx, buf, extra, model)
	if err != nil {
		return "", err
	}
	if !res.ShouldRespond {
		return "", nil
	}
	return res.Response, nil
}

func (a *ContextAssembler) complete(ctx context.Context, buf *conversation.Buffer, extra, model string) (*llm.Result, error) {
	a.EnforceBudget(ctx, buf, extra)

	req := llm.Request{
		Model:            model,
		Messages:         a.Order(buf, extra),
		Temperature:      a.cfg.Temperature,
		MaxTokens:        a.cfg.MaxTokens,
		PresencePenalty:  a.cfg.PresencePenalty,
		FrequencyPenalty: a.cfg.FrequencyPenalty,
	}

	log := trace.Logger(ctx, a.logger)
	var res *llm.Result
	attempt := 0
	err := retry.Do(ctx, a.cfg.Retry, func() error {
		attempt++
		r, err := a.completer.Complete(ctx, req)
		if err == nil {
			err = r.Validate()
		}
		if err != nil {
			log.Warn("assembler: completion attempt failed",
				"attempt", attempt, "model", model, "malformed", errors.Is(err, llm.ErrMalformedOutput), "err", err)
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.ShouldRespond {
		buf.Append(conversation.Assistant(res.Response))
	}
	log.Debug("assembler: completion done",
		"model", model, "attempts", attempt, "respond", res.ShouldRespond, "tokens", res.Usage.TotalTokens)
	return res, nil
}
