package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdobrica/rivanna/common/trace"
	"github.com/bdobrica/rivanna/internal/rivanna/conversation"
	"github.com/bdobrica/rivanna/internal/rivanna/llm"
)

// Pipeline runs one processing cycle: record the burst, recall memories,
// and ask the model for a reply.
type Pipeline struct {
	augmenter *RetrievalAugmenter
	assembler *ContextAssembler
	budget    *llm.TokenBudget // optional
	logger    *slog.Logger
}

// NewPipeline wires the stages together. budget may be nil.
func NewPipeline(augmenter *RetrievalAugmenter, assembler *ContextAssembler, budget *llm.TokenBudget, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{augmenter: augmenter, assembler: assembler, budget: budget, logger: logger}
}

// Respond appends batch to buf as user turns and returns the persona's
// reply. ok is false when the model chose silence. The reply has already
// been appended to buf when ok is true.
func (p *Pipeline) Respond(ctx context.Context, scope string, buf *conversation.Buffer, batch []string) (reply string, ok bool, err error) {
	if p.budget != nil && !p.budget.Allow(scope) {
		return "", false, fmt.Errorf("pipeline: scope %s: %w", scope, llm.ErrTokenBudgetExceeded)
	}

	for _, msg := range batch {
		buf.Append(conversation.User(msg))
	}

	extra, err := p.augmenter.Augment(ctx, scope, buf)
	if err != nil {
		return "", false, err
	}

	res, err := p.assembler.Complete(ctx, buf, extra)
	if err != nil {
		return "", false, err
	}
	if p.budget != nil {
		p.budget.RecordUsage(scope, res.Usage.TotalTokens)
	}

	trace.Logger(ctx, p.logger).Info("pipeline: cycle complete",
		"scope", scope, "messages", len(batch), "respond", res.ShouldRespond, "history", buf.Len())
	if !res.ShouldRespond {
		return "", false, nil
	}
	return res.Response, true, nil
}
