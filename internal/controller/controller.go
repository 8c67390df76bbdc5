// Package controller implements the per-session practice state machine.
//
// A [Controller] owns one [session.State] and drives the tutor and the voice
// pipeline through the three drills:
//
//   - Free conversation: the learner speaks or types, the tutor replies,
//     the learner's sentence is corrected and the reply translated, and the
//     reply is spoken.
//   - Shadowing: a practice sentence is generated and spoken, the learner
//     repeats it aloud, and the transcript is evaluated against it.
//   - Dictation: as shadowing, but the learner types what they heard.
//
// Events are handled one at a time. A second event arriving while one is in
// flight fails with [ErrBusy] instead of queueing. Every external call runs
// with its own timeout, and a turn is committed to the session state and
// the tutor's memory only when all of its steps succeeded.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kamihatanoadoresu/english-conversation/internal/observe"
	"github.com/kamihatanoadoresu/english-conversation/internal/prompt"
	"github.com/kamihatanoadoresu/english-conversation/internal/scoring"
	"github.com/kamihatanoadoresu/english-conversation/internal/session"
	"github.com/kamihatanoadoresu/english-conversation/internal/voice"
)

// Sentinel errors returned by event methods.
var (
	ErrBusy          = errors.New("controller: another event is in progress")
	ErrPaused        = errors.New("controller: session is paused")
	ErrNoMode        = errors.New("controller: no mode selected")
	ErrNotStarted    = errors.New("controller: session not started")
	ErrWrongMode     = errors.New("controller: event not available in this mode")
	ErrNoProblem     = errors.New("controller: no problem is waiting for an answer")
	ErrAnswerPending = errors.New("controller: current problem has not been answered")
	ErrInvalid       = errors.New("controller: invalid setting")

	// ErrTurnFailed wraps every speech or model failure that aborted a turn.
	ErrTurnFailed = errors.New("controller: turn failed")
)

// Learner-facing messages for aborted or degraded turns.
const (
	WarnGenerationFailed = "⚠️ 応答の生成に失敗しました。時間をおいて、もう一度お試しください。"
	WarnSpeechFailed     = "⚠️ 音声の処理に失敗しました。もう一度お試しください。"
	WarnParse            = "⚠️ 添削結果を正しく読み取れませんでした。表示内容は一部のみです。"
)

// Phase is a state of the practice machine.
type Phase string

const (
	PhaseIdle                      Phase = "idle"
	PhaseAwaitingProblemGeneration Phase = "awaiting_problem_generation"
	PhaseAwaitingAudio             Phase = "awaiting_audio"
	PhaseTranscribing              Phase = "transcribing"
	PhaseGenerating                Phase = "generating"
	PhaseEvaluating                Phase = "evaluating"
	PhaseSynthesizing              Phase = "synthesizing"
	PhasePlaying                   Phase = "playing"
)

// Tutor is the language-model side of a session. [*prompt.Pipeline]
// satisfies it.
type Tutor interface {
	BuildTutorReply(ctx context.Context, utterance, level string) (string, prompt.Commit, error)
	GenerateProblem(ctx context.Context, level string) (string, prompt.Commit, error)
	Evaluate(ctx context.Context, problemText, userText, level string, includeHistory bool) (string, prompt.Commit, error)
	CorrectAndTranslate(ctx context.Context, userText, assistantText, level string) (prompt.Correction, error)
	ResetMemory()
}

// Voice is the audio side of a session. [*voice.Pipeline] satisfies it.
type Voice interface {
	Capture(data []byte) ([]byte, error)
	Transcribe(ctx context.Context, wav []byte) (voice.Transcription, error)
	Synthesize(ctx context.Context, text string, speed float64) ([]byte, error)
}

var (
	_ Tutor = (*prompt.Pipeline)(nil)
	_ Voice = (*voice.Pipeline)(nil)
)

// Timeouts bounds each kind of external call. A zero value means no limit
// beyond the caller's context.
type Timeouts struct {
	Transcribe time.Duration
	Generate   time.Duration
	Synthesize time.Duration
}

// DefaultTimeouts are used when no [WithTimeouts] option is given.
var DefaultTimeouts = Timeouts{
	Transcribe: 30 * time.Second,
	Generate:   60 * time.Second,
	Synthesize: 30 * time.Second,
}

// Outcome describes what an event produced beyond the new session state.
type Outcome struct {
	// Warnings are learner-facing messages. A failed turn carries the reason
	// here in addition to the returned error.
	Warnings []string `json:"warnings,omitempty"`

	// Clips lists the ids of audio clips to play, in order.
	Clips []string `json:"clips,omitempty"`

	// Correction is set after a free-conversation turn.
	Correction *prompt.Correction `json:"correction,omitempty"`

	// Evaluation is set after a shadowing or dictation answer.
	Evaluation *prompt.Evaluation `json:"evaluation,omitempty"`
}

func (o *Outcome) warn(msg string) {
	if msg != "" {
		o.Warnings = append(o.Warnings, msg)
	}
}

// Snapshot is a consistent copy of a controller's state.
type Snapshot struct {
	Phase Phase          `json:"phase"`
	State *session.State `json:"state"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeouts overrides [DefaultTimeouts].
func WithTimeouts(t Timeouts) Option {
	return func(c *Controller) { c.timeouts = t }
}

// WithMetrics records call latencies, turns and warnings to m. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClipCacheSize sets how many clips are kept for playback. Default:
// [DefaultClipCacheSize].
func WithClipCacheSize(n int) Option {
	return func(c *Controller) { c.clips = newClipCache(n) }
}

// WithScorer sets the word-level scorer attached to evaluations.
func WithScorer(s *scoring.Scorer) Option {
	return func(c *Controller) { c.scorer = s }
}

// WithSettings sets the level and speed a new session starts with. Invalid
// values are ignored.
func WithSettings(l session.Level, sp session.Speed) Option {
	return func(c *Controller) {
		if l.Valid() {
			c.state.Level = l
		}
		if sp.Valid() {
			c.state.Speed = sp
		}
	}
}

// WithTransitionHook registers fn to run after every phase change. It runs
// on the event goroutine without internal locks held.
func WithTransitionHook(fn func(from, to Phase)) Option {
	return func(c *Controller) { c.hook = fn }
}

// Controller is the state machine of one session.
type Controller struct {
	id    string
	tutor Tutor
	voice Voice

	timeouts Timeouts
	metrics  *observe.Metrics
	scorer   *scoring.Scorer
	clips    *clipCache
	hook     func(from, to Phase)

	// busy admits one event at a time. Only the holder mutates state.
	busy sync.Mutex

	// mu guards state and phase against concurrent Snapshot readers.
	mu    sync.Mutex
	state *session.State
	phase Phase
}

// New returns a Controller for session id with a fresh [session.State].
func New(id string, tutor Tutor, v Voice, opts ...Option) *Controller {
	c := &Controller{
		id:       id,
		tutor:    tutor,
		voice:    v,
		timeouts: DefaultTimeouts,
		state:    session.New(),
		phase:    PhaseIdle,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.scorer == nil {
		c.scorer = scoring.New()
	}
	if c.clips == nil {
		c.clips = newClipCache(DefaultClipCacheSize)
	}
	return c
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Snapshot returns a deep copy of the session state and the current phase.
// It never blocks on an in-flight event.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Phase: c.phase, State: c.state.Clone()}
}

// Clip returns a cached WAV clip by id.
func (c *Controller) Clip(id string) ([]byte, bool) {
	return c.clips.get(id)
}

// ---- event plumbing ----

// begin admits one event and starts its span. The returned func must be
// deferred with a pointer to the event's error.
func (c *Controller) begin(ctx context.Context, event string) (context.Context, func(*error), error) {
	if !c.busy.TryLock() {
		return ctx, nil, ErrBusy
	}
	ctx = observe.WithSession(ctx, c.id)
	ctx, span := observe.StartSpan(ctx, "controller."+event,
		trace.WithAttributes(
			attribute.String("session.id", c.id),
			attribute.String("session.mode", string(c.state.Mode)),
		),
	)
	end := func(errp *error) {
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.busy.Unlock()
	}
	return ctx, end, nil
}

// update applies fn to the state under mu.
func (c *Controller) update(fn func(s *session.State)) {
	c.mu.Lock()
	fn(c.state)
	c.mu.Unlock()
}

// enter moves the machine to phase p and runs the transition hook.
func (c *Controller) enter(p Phase) {
	c.mu.Lock()
	from := c.phase
	c.phase = p
	c.mu.Unlock()
	if c.hook != nil && from != p {
		c.hook(from, p)
	}
}

// requireRunning checks the preconditions shared by turn events.
func (c *Controller) requireRunning() error {
	switch {
	case c.state.Paused:
		return ErrPaused
	case !c.state.Mode.Valid():
		return ErrNoMode
	case !c.state.Started:
		return ErrNotStarted
	}
	return nil
}

// within derives a context bounded by d.
func within(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// fail aborts the current turn: the machine returns to Idle, the learner sees
// msg, and the error is wrapped with ErrTurnFailed.
func (c *Controller) fail(ctx context.Context, out *Outcome, op, msg string, err error) error {
	c.enter(PhaseIdle)
	out.warn(msg)
	c.metrics.RecordWarning(ctx, "turn_failed")
	observe.Logger(ctx).Warn("controller: turn aborted", "mode", c.state.Mode, "op", op, "err", err)
	return fmt.Errorf("%w: %s: %w", ErrTurnFailed, op, err)
}

// commitMemory saves a predicted exchange. The exchange is kept even when
// summarising older turns fails, so the error is only logged.
func (c *Controller) commitMemory(ctx context.Context, commit prompt.Commit) {
	if commit == nil {
		return
	}
	ctx, cancel := within(ctx, c.timeouts.Generate)
	defer cancel()
	if err := commit(ctx); err != nil {
		observe.Logger(ctx).Warn("controller: memory summary failed", "err", err)
	}
}
