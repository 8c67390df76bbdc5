package controller

import (
	"context"
	"errors"
	"time"

	"github.com/kamihatanoadoresu/english-conversation/internal/observe"
	"github.com/kamihatanoadoresu/english-conversation/internal/prompt"
	"github.com/kamihatanoadoresu/english-conversation/internal/session"
	"github.com/kamihatanoadoresu/english-conversation/internal/voice"
	"github.com/kamihatanoadoresu/english-conversation/pkg/types"
)

// ---- external calls ----

func (c *Controller) transcribe(ctx context.Context, wav []byte) (voice.Transcription, error) {
	c.enter(PhaseTranscribing)
	ctx, cancel := within(ctx, c.timeouts.Transcribe)
	defer cancel()
	start := time.Now()
	tr, err := c.voice.Transcribe(ctx, wav)
	c.metrics.ObserveCall(ctx, "stt", "transcribe", start, err)
	return tr, err
}

func (c *Controller) synthesize(ctx context.Context, op, text string) ([]byte, error) {
	c.enter(PhaseSynthesizing)
	ctx, cancel := within(ctx, c.timeouts.Synthesize)
	defer cancel()
	start := time.Now()
	wav, err := c.voice.Synthesize(ctx, text, float64(c.state.Speed))
	c.metrics.ObserveCall(ctx, "tts", op, start, err)
	return wav, err
}

// generate runs one tutor call under the generation timeout.
func generate[T any](ctx context.Context, c *Controller, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := within(ctx, c.timeouts.Generate)
	defer cancel()
	start := time.Now()
	v, err := fn(ctx)
	if errors.Is(err, prompt.ErrParse) {
		c.metrics.ObserveCall(ctx, "llm", op, start, nil)
		return v, err
	}
	c.metrics.ObserveCall(ctx, "llm", op, start, err)
	return v, err
}

// predicted is a tutor answer together with the memory write it implies.
type predicted struct {
	text   string
	commit prompt.Commit
}

func (c *Controller) predict(ctx context.Context, op string, fn func(context.Context) (string, prompt.Commit, error)) (predicted, error) {
	return generate(ctx, c, op, func(ctx context.Context) (predicted, error) {
		text, commit, err := fn(ctx)
		return predicted{text: text, commit: commit}, err
	})
}

// ---- free conversation ----

// converse runs one free-conversation turn for the learner's utterance.
// Nothing is committed unless the reply, the correction and the audio all
// succeed; an unparsable correction only degrades the turn.
func (c *Controller) converse(ctx context.Context, out *Outcome, utterance string) error {
	level := c.state.Level.Label()

	c.enter(PhaseGenerating)
	reply, err := c.predict(ctx, "reply", func(ctx context.Context) (string, prompt.Commit, error) {
		return c.tutor.BuildTutorReply(ctx, utterance, level)
	})
	if err != nil {
		return c.fail(ctx, out, "reply", WarnGenerationFailed, err)
	}

	corr, err := generate(ctx, c, "correct_translate", func(ctx context.Context) (prompt.Correction, error) {
		return c.tutor.CorrectAndTranslate(ctx, utterance, reply.text, level)
	})
	switch {
	case errors.Is(err, prompt.ErrParse):
		out.warn(WarnParse)
		c.metrics.RecordWarning(ctx, "parse")
	case err != nil:
		return c.fail(ctx, out, "correct_translate", WarnGenerationFailed, err)
	}

	wav, err := c.synthesize(ctx, "reply", reply.text)
	if err != nil {
		return c.fail(ctx, out, "synthesize_reply", WarnSpeechFailed, err)
	}

	c.commitMemory(ctx, reply.commit)
	clip := c.clips.put(wav)
	c.update(func(s *session.State) {
		s.AppendTurn(session.Turn{Role: types.RoleUser, Text: utterance, Kind: session.KindReply})
		s.AppendTurn(session.Turn{Role: types.RoleAssistant, Text: reply.text, AudioRef: clip, Kind: session.KindReply})
		if !corr.None() {
			s.AppendTurn(session.Turn{Role: types.RoleAssistant, Text: corr.Text, Kind: session.KindCorrection})
		}
		if corr.Translation != "" {
			s.AppendTurn(session.Turn{Role: types.RoleAssistant, Text: corr.Translation, Kind: session.KindTranslation})
		}
		s.Active().TurnCount++
	})
	out.Clips = append(out.Clips, clip)
	out.Correction = &corr

	c.enter(PhasePlaying)
	c.enter(PhaseIdle)
	c.committed(ctx)
	return nil
}

// ---- shadowing and dictation ----

// presentProblem generates, speaks and shows the next practice sentence. It
// is the only path to GenerateProblem and runs only from
// PhaseAwaitingProblemGeneration, so each round gets exactly one problem.
func (c *Controller) presentProblem(ctx context.Context, out *Outcome) error {
	if c.phase != PhaseAwaitingProblemGeneration {
		return errors.New("controller: problem generation outside its phase")
	}
	level := c.state.Level.Label()

	c.enter(PhaseGenerating)
	problem, err := c.predict(ctx, "problem", func(ctx context.Context) (string, prompt.Commit, error) {
		return c.tutor.GenerateProblem(ctx, level)
	})
	if err != nil {
		return c.fail(ctx, out, "problem", WarnGenerationFailed, err)
	}

	wav, err := c.synthesize(ctx, "problem", problem.text)
	if err != nil {
		return c.fail(ctx, out, "synthesize_problem", WarnSpeechFailed, err)
	}

	c.commitMemory(ctx, problem.commit)
	clip := c.clips.put(wav)
	mode := c.state.Mode
	c.update(func(s *session.State) {
		s.Problem = &session.Problem{Text: problem.text, AudioRef: clip, CreatedAt: time.Now()}
		s.AppendTurn(session.Turn{Role: types.RoleAssistant, Text: problem.text, AudioRef: clip, Kind: session.KindProblem})
		rs := s.Active()
		rs.IsFirstTurn = false
		switch mode {
		case session.ModeShadowing:
			rs.PendingAudioInput = true
		case session.ModeDictation:
			s.ChatOpen = true
		}
	})
	out.Clips = append(out.Clips, clip)

	c.enter(PhasePlaying)
	if mode == session.ModeShadowing {
		c.enter(PhaseAwaitingAudio)
	} else {
		c.enter(PhaseIdle)
	}
	observe.Logger(ctx).Info("problem presented", "mode", mode)
	return nil
}

// evaluateAnswer judges the learner's answer to the current problem and
// counts the turn. The first evaluation of a mode is judged without
// conversation history.
func (c *Controller) evaluateAnswer(ctx context.Context, out *Outcome, answer string) error {
	p := c.state.Problem
	if p == nil {
		return ErrNoProblem
	}
	rs := c.state.Active()
	level := c.state.Level.Label()
	includeHistory := !rs.IsFirstEvaluation

	c.enter(PhaseEvaluating)
	verdict, err := c.predict(ctx, "evaluate", func(ctx context.Context) (string, prompt.Commit, error) {
		return c.tutor.Evaluate(ctx, p.Text, answer, level, includeHistory)
	})
	if err != nil {
		return c.fail(ctx, out, "evaluate", WarnGenerationFailed, err)
	}
	eval := prompt.Evaluation{Verdict: verdict.text, Score: c.scorer.Score(p.Text, answer)}

	c.commitMemory(ctx, verdict.commit)
	c.update(func(s *session.State) {
		s.AppendTurn(session.Turn{Role: types.RoleUser, Text: answer, Kind: session.KindReply})
		s.AppendTurn(session.Turn{Role: types.RoleAssistant, Text: verdict.text, Kind: session.KindEvaluation})
		rs := s.Active()
		rs.TurnCount++
		rs.IsFirstEvaluation = false
		rs.PendingAudioInput = false
		rs.PendingChatMessage = ""
		s.ChatOpen = false
	})
	out.Evaluation = &eval

	c.enter(PhaseAwaitingProblemGeneration)
	c.committed(ctx)
	return nil
}

// committed records a finished turn.
func (c *Controller) committed(ctx context.Context) {
	mode := c.state.Mode
	c.metrics.RecordTurn(ctx, string(mode))
	observe.Logger(ctx).Info("turn committed",
		"mode", mode,
		"turn_count", c.state.Active().TurnCount,
	)
}
