package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/kamihatanoadoresu/english-conversation/internal/memory"
	"github.com/kamihatanoadoresu/english-conversation/internal/observe"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm"
	"github.com/kamihatanoadoresu/english-conversation/pkg/types"
)

// Commit writes a predicted exchange to the conversation memory. Callers run
// it only once the whole turn has succeeded, so an aborted turn leaves memory
// untouched. Error paths return a no-op Commit.
type Commit func(ctx context.Context) error

func noCommit(context.Context) error { return nil }

// Chain is one prompt shape: a system template, the memory history and the
// human input, sent to a model in that order.
type Chain struct {
	model       llm.Provider
	system      string
	temperature float64
	// history controls whether memory is replayed into the prompt.
	history bool
}

// Predict sends the chain's prompt and returns the model's answer. The
// exchange is saved to mem only when the returned Commit is called.
func (c Chain) Predict(ctx context.Context, mem *memory.Buffer, input string) (string, Commit, error) {
	var msgs []types.Message
	if c.history && mem != nil {
		msgs = mem.Messages()
	}
	msgs = append(msgs, types.Message{Role: types.RoleUser, Content: input})

	resp, err := c.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: c.system,
		Messages:     msgs,
		Temperature:  c.temperature,
	})
	if err != nil {
		return "", noCommit, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", noCommit, fmt.Errorf("%w: empty completion", ErrGeneration)
	}
	if resp.FinishReason == llm.FinishLength {
		observe.Logger(ctx).Warn("prompt: completion truncated by token limit", "chars", len(resp.Content))
	}
	text := strings.TrimSpace(resp.Content)

	commit := func(ctx context.Context) error {
		if mem == nil {
			return nil
		}
		return mem.SaveExchange(ctx, input, text)
	}
	return text, commit, nil
}
