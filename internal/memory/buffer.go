// Package memory provides the conversation memory of a tutoring session: a
// bounded buffer of recent turns plus a running summary of everything that
// no longer fits.
//
// A Buffer is owned by exactly one prompt pipeline. Purging a session does not
// clear a Buffer in place; the owner swaps in a [Buffer.Fresh] instance bound
// to the same model.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm"
	"github.com/kamihatanoadoresu/english-conversation/pkg/types"
)

// DefaultTokenLimit is the buffer budget used when none is configured.
const DefaultTokenLimit = 1000

// summaryPrefix labels the running summary when it is replayed to the model.
const summaryPrefix = "[Previous conversation summary]: "

// Option configures a Buffer.
type Option func(*Buffer)

// WithTokenLimit sets the token budget of the verbatim turn buffer. Values
// below one are ignored.
func WithTokenLimit(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.limit = n
		}
	}
}

// WithSummariser overrides the summariser. The default summarises with the
// bound model.
func WithSummariser(s Summariser) Option {
	return func(b *Buffer) { b.summariser = s }
}

// Buffer keeps recent conversation turns verbatim and folds the oldest ones
// into a summary once their token count, as measured by the bound model,
// exceeds the limit.
//
// All methods are safe for concurrent use.
type Buffer struct {
	model      llm.Provider
	limit      int
	summariser Summariser
	custom     bool

	mu       sync.Mutex
	summary  string
	messages []types.Message
}

// New returns an empty Buffer bound to model.
func New(model llm.Provider, opts ...Option) *Buffer {
	b := &Buffer{model: model, limit: DefaultTokenLimit}
	for _, o := range opts {
		o(b)
	}
	if b.summariser == nil {
		b.summariser = NewLLMSummariser(model)
	} else {
		b.custom = true
	}
	return b
}

// Fresh returns a new empty Buffer bound to the same model with the same
// limit and summariser.
func (b *Buffer) Fresh() *Buffer {
	opts := []Option{WithTokenLimit(b.limit)}
	if b.custom {
		opts = append(opts, WithSummariser(b.summariser))
	}
	return New(b.model, opts...)
}

// Messages returns the history to replay before the next human input: the
// running summary (as a system message) followed by the buffered turns.
func (b *Buffer) Messages() []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.Message, 0, len(b.messages)+1)
	if b.summary != "" {
		out = append(out, types.Message{Role: types.RoleSystem, Content: summaryPrefix + b.summary})
	}
	return append(out, b.messages...)
}

// Summary returns the running summary, "" if nothing has been folded yet.
func (b *Buffer) Summary() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary
}

// Len returns the number of verbatim messages held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Empty reports whether the buffer holds neither turns nor a summary.
func (b *Buffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages) == 0 && b.summary == ""
}

// SaveExchange appends one human input and one model output, then prunes.
// When the buffered turns exceed the token limit, the oldest messages are
// removed until the rest fit and are folded into the summary. If summarising
// fails the exchange stays saved, nothing is pruned, and the error is returned.
func (b *Buffer) SaveExchange(ctx context.Context, input, output string) error {
	b.mu.Lock()
	b.messages = append(b.messages,
		types.Message{Role: types.RoleUser, Content: input},
		types.Message{Role: types.RoleAssistant, Content: output},
	)
	pruned, err := b.overflowLocked()
	existing := b.summary
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("memory: count tokens: %w", err)
	}
	if pruned == 0 {
		return nil
	}

	b.mu.Lock()
	folded := make([]types.Message, pruned)
	copy(folded, b.messages[:pruned])
	b.mu.Unlock()

	// The LLM call runs without the lock.
	summary, err := b.summariser.Summarise(ctx, existing, folded)
	if err != nil {
		return fmt.Errorf("memory: fold %d messages: %w", pruned, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Callers serialise writes per session; guard against a concurrent
	// writer having changed the head anyway.
	if len(b.messages) < pruned || b.summary != existing {
		return nil
	}
	b.messages = append([]types.Message(nil), b.messages[pruned:]...)
	b.summary = summary
	return nil
}

// overflowLocked returns how many leading messages must be dropped for the
// rest to fit the limit. Must be called with b.mu held.
func (b *Buffer) overflowLocked() (int, error) {
	for n := 0; n < len(b.messages); n++ {
		tokens, err := b.model.CountTokens(b.messages[n:])
		if err != nil {
			return 0, err
		}
		if tokens <= b.limit {
			return n, nil
		}
	}
	return len(b.messages), nil
}
