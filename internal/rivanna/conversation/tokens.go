package conversation

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many tokens a piece of text costs.
type TokenCounter interface {
	CountTokens(text string) int
}

// HeuristicCounter approximates token counts at four bytes per token. It
// needs no model tables and is used when a BPE encoding is unavailable.
type HeuristicCounter struct{}

const charsPerToken = 4

// CountTokens returns ceil(len(text)/4).
func (HeuristicCounter) CountTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TiktokenCounter counts tokens with the BPE encoding of a specific model.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the encoding used by model, falling back to
// cl100k_base for models tiktoken does not know. Loading may fetch the BPE
// ranks over the network on first use.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("conversation: load encoding for %q: %w", model, err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

// CountTokens returns the exact number of BPE tokens in text.
func (c *TiktokenCounter) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// HistoryText joins the contents of turns the way they are counted against
// the budget.
func HistoryText(turns []Turn) string {
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = t.Content
	}
	return strings.Join(parts, "\n")
}

var (
	_ TokenCounter = HeuristicCounter{}
	_ TokenCounter = (*TiktokenCounter)(nil)
)
