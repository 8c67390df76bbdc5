// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat model (OpenAI, Anthropic,
// Gemini, a local Ollama instance, ...) and exposes the small surface the
// tutoring pipeline needs: one-shot completions and token counting for the
// conversation memory budget. Responses are batch only; the pipeline never
// streams partial text to the learner.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/kamihatanoadoresu/english-conversation/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is the high-priority instruction injected before the
	// conversation history. Providers without a dedicated system field prepend
	// it as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means use the
	// provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage

	// FinishReason is the backend's stop reason, or "" when it reports none.
	// [FinishLength] means Content was cut off by the token limit.
	FinishReason string
}

// FinishLength is the FinishReason of a completion cut off by MaxTokens or
// the model's output limit.
const FinishLength = "length"

// Provider is the abstraction over any LLM backend.
//
// Each method should propagate context cancellation promptly: when ctx is
// cancelled or its deadline passes, Complete must return as quickly as
// possible with the context error wrapped.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens the given message list would
	// consume in the model's context window. The conversation memory uses it
	// to decide when to fold old turns into its running summary. The result
	// need not be exact but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() types.ModelCapabilities
}

// EstimateTokens is the shared ~4-bytes-per-token approximation used by
// backends without a local tokenizer. Each message adds a small fixed overhead
// for role and formatting tokens.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
