// Package prompt drives the tutor model: it renders the prompt templates,
// runs them through chains that replay conversation memory, and parses the
// structured answers.
//
// A Pipeline belongs to exactly one session. Its operations never retry; a
// failed call surfaces [ErrGeneration] and leaves memory untouched.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kamihatanoadoresu/english-conversation/internal/memory"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm"
	"github.com/kamihatanoadoresu/english-conversation/pkg/types"
)

// DefaultTemperature is the sampling temperature of every tutor prompt.
const DefaultTemperature = 0.5

var (
	// ErrGeneration is returned when the model fails or answers with no text.
	ErrGeneration = errors.New("prompt: generation failed")

	// ErrParse is returned, together with a usable degraded result, when a
	// structured answer is missing its section markers.
	ErrParse = errors.New("prompt: could not parse model answer")
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(p *Pipeline) { p.temperature = t }
}

// WithMemoryOptions passes options to every memory buffer the pipeline
// creates.
func WithMemoryOptions(opts ...memory.Option) Option {
	return func(p *Pipeline) { p.memOpts = append(p.memOpts, opts...) }
}

// Pipeline issues the tutor prompts of one session.
//
// All methods are safe for concurrent use; the memory swap in ResetMemory is
// atomic with respect to the other operations' reads.
type Pipeline struct {
	model       llm.Provider
	temperature float64
	memOpts     []memory.Option

	mu  sync.Mutex
	mem *memory.Buffer
}

// New returns a Pipeline bound to model with an empty memory.
func New(model llm.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{model: model, temperature: DefaultTemperature}
	for _, o := range opts {
		o(p)
	}
	p.mem = memory.New(model, p.memOpts...)
	return p
}

// Memory returns the current conversation memory.
func (p *Pipeline) Memory() *memory.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mem
}

// ResetMemory replaces the memory with a fresh instance bound to the same
// model. Commits still pending against the old memory write to the old
// instance and are therefore dropped.
func (p *Pipeline) ResetMemory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mem = p.mem.Fresh()
}

func (p *Pipeline) chain(system string, history bool) Chain {
	return Chain{model: p.model, system: system, temperature: p.temperature, history: history}
}

// BuildTutorReply answers a free-conversation utterance, replaying memory.
func (p *Pipeline) BuildTutorReply(ctx context.Context, utterance, level string) (string, Commit, error) {
	c := p.chain(render(ConversationTemplate, phLevel, level), true)
	text, commit, err := c.Predict(ctx, p.Memory(), utterance)
	if err != nil {
		return "", commit, fmt.Errorf("prompt: tutor reply: %w", err)
	}
	return text, commit, nil
}

// GenerateProblem produces one practice sentence for shadowing or dictation.
// Length and vocabulary by level are requested by the prompt, not enforced.
func (p *Pipeline) GenerateProblem(ctx context.Context, level string) (string, Commit, error) {
	c := p.chain(render(ProblemTemplate, phLevel, level), true)
	text, commit, err := c.Predict(ctx, p.Memory(), problemInput)
	if err != nil {
		return "", commit, fmt.Errorf("prompt: generate problem: %w", err)
	}
	return text, commit, nil
}

// Evaluate compares the learner's answer with the practice sentence. Memory
// is replayed only when includeHistory is set, so a first evaluation is
// judged on its own.
func (p *Pipeline) Evaluate(ctx context.Context, problemText, userText, level string, includeHistory bool) (string, Commit, error) {
	system := render(EvaluationTemplate,
		phProblem, problemText,
		phUserText, userText,
		phLevel, level,
	)
	c := p.chain(system, includeHistory)
	text, commit, err := c.Predict(ctx, p.Memory(), evaluationInput)
	if err != nil {
		return "", commit, fmt.Errorf("prompt: evaluate: %w", err)
	}
	return text, commit, nil
}

// CorrectAndTranslate checks the learner's sentence and translates the
// tutor's reply in one call. It does not touch memory. When the answer lacks
// its markers the degraded result is returned together with an error
// matching ErrParse; callers should treat that as a warning.
func (p *Pipeline) CorrectAndTranslate(ctx context.Context, userText, assistantText, level string) (Correction, error) {
	resp, err := p.model.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{{
			Role: types.RoleUser,
			Content: render(correctTranslateTemplate,
				phLevel, level,
				phUserText, userText,
				phAssistant, assistantText,
			),
		}},
		Temperature: p.temperature,
	})
	if err != nil {
		return Correction{}, fmt.Errorf("prompt: correct and translate: %w: %w", ErrGeneration, err)
	}
	if resp == nil || resp.Content == "" {
		return Correction{}, fmt.Errorf("prompt: correct and translate: %w: empty completion", ErrGeneration)
	}
	c, err := ParseCorrection(resp.Content)
	if err != nil {
		return c, fmt.Errorf("prompt: correct and translate: %w", err)
	}
	return c, nil
}
