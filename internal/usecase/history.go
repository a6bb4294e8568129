package usecase

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"deepchat/internal/domain"
)

// ValidateHistory checks that every tool call referenced by an
// assistant message has a matching tool-result message later in the
// history. It returns the ids left unmatched. Partial histories are a
// normal consequence of retried or truncated earlier turns, so callers
// log the result and proceed rather than rejecting the request.
func ValidateHistory(messages []domain.Message) []string {
	answered := make(map[string]bool)
	for _, msg := range messages {
		if msg.Role == domain.RoleTool && msg.ToolCallID != "" {
			answered[msg.ToolCallID] = true
		}
	}
	var unmatched []string
	for _, msg := range messages {
		if msg.Role != domain.RoleAssistant {
			continue
		}
		for _, ref := range msg.ToolCalls {
			if !answered[ref.ID] {
				unmatched = append(unmatched, ref.ID)
			}
		}
	}
	return unmatched
}

// ContextGuard estimates the token footprint of a message history and
// warns when it approaches the configured budget. The estimate is
// advisory only; the upstream provider is the final authority on
// context limits.
type ContextGuard struct {
	encoding *tiktoken.Tiktoken
	budget   int
	logger   *slog.Logger
}

// NewContextGuard builds a guard using the cl100k_base encoding, a
// close enough proxy for the upstream tokenizer. Encoding setup can
// fail when the BPE data is unavailable; callers treat a nil guard as
// "skip the check".
func NewContextGuard(budget int, logger *slog.Logger) (*ContextGuard, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextGuard{encoding: enc, budget: budget, logger: logger}, nil
}

// Estimate returns the approximate token count of the history,
// including a small per-message overhead for role framing.
func (g *ContextGuard) Estimate(messages []domain.Message) int {
	const perMessageOverhead = 4
	total := 0
	for _, msg := range messages {
		total += perMessageOverhead
		total += len(g.encoding.Encode(msg.Content, nil, nil))
		if msg.ReasoningContent != "" {
			total += len(g.encoding.Encode(msg.ReasoningContent, nil, nil))
		}
		for _, ref := range msg.ToolCalls {
			total += len(g.encoding.Encode(ref.Function.Arguments, nil, nil))
		}
	}
	return total
}

// Check logs a warning when the history's estimated token count
// exceeds the budget. The request still proceeds.
func (g *ContextGuard) Check(messages []domain.Message) int {
	tokens := g.Estimate(messages)
	if g.budget > 0 && tokens > g.budget {
		g.logger.Warn("history token estimate exceeds budget",
			"estimated_tokens", tokens,
			"budget", g.budget,
		)
	}
	return tokens
}
