package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm"
	"github.com/kamihatanoadoresu/english-conversation/pkg/types"
)

// summarisationPrompt is the system prompt sent to the LLM when folding old
// turns into the running summary.
const summarisationPrompt = `Progressively summarise the lines of an English-conversation tutoring session,
adding onto the previous summary and returning a new summary.
Preserve: topics discussed, practice sentences given, the learner's recurring
mistakes and the feedback already provided.
Be concise. Reply with the new summary only.`

// Summariser folds a conversation segment into an existing summary.
type Summariser interface {
	// Summarise returns a new summary covering existing plus messages.
	Summarise(ctx context.Context, existing string, messages []types.Message) (string, error)
}

// LLMSummariser uses an LLM provider to summarise conversations.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise sends the previous summary and the new lines to the LLM and
// returns the extended summary.
func (s *LLMSummariser) Summarise(ctx context.Context, existing string, messages []types.Message) (string, error) {
	if len(messages) == 0 {
		return existing, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current summary:\n%s\n\nNew lines of conversation:\n", existing)
	for _, m := range messages {
		speaker := "Learner"
		if m.Role == types.RoleAssistant {
			speaker = "Tutor"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, m.Content)
	}
	sb.WriteString("\nNew summary:")

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: sb.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("summarise: empty summary")
	}
	return strings.TrimSpace(resp.Content), nil
}
