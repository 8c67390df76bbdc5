package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kamihatanoadoresu/english-conversation/internal/observe"
	"github.com/kamihatanoadoresu/english-conversation/internal/session"
	"github.com/kamihatanoadoresu/english-conversation/internal/voice"
)

// ---- lifecycle ----

// Start begins practice in the selected mode. In shadowing and dictation the
// first problem is generated and spoken right away. Starting an already
// started session is a no-op.
func (c *Controller) Start(ctx context.Context) (out Outcome, err error) {
	ctx, end, err := c.begin(ctx, "start")
	if err != nil {
		return out, err
	}
	defer end(&err)

	switch {
	case c.state.Paused:
		return out, ErrPaused
	case !c.state.Mode.Valid():
		return out, ErrNoMode
	case c.state.Started:
		return out, nil
	}

	c.update(func(s *session.State) {
		s.Started = true
		s.Active().ButtonPressed = true
	})
	observe.Logger(ctx).Info("session started", "mode", c.state.Mode)

	if !c.state.Mode.Drill() {
		c.enter(PhaseIdle)
		return out, nil
	}
	c.enter(PhaseAwaitingProblemGeneration)
	err = c.presentProblem(ctx, &out)
	return out, err
}

// Stop ends practice: the conversation is cleared, the tutor forgets it, and
// any problem waiting for an answer is dropped. Counters are kept.
func (c *Controller) Stop(ctx context.Context) (err error) {
	ctx, end, err := c.begin(ctx, "stop")
	if err != nil {
		return err
	}
	defer end(&err)

	c.resetConversation()
	c.update(func(s *session.State) {
		s.Started = false
		s.ChatOpen = false
		s.Problem = nil
		if rs := s.Active(); rs != nil {
			rs.ButtonPressed = false
			rs.PendingAudioInput = false
			rs.PendingChatMessage = ""
		}
	})
	c.enter(PhaseIdle)
	observe.Logger(ctx).Info("session stopped")
	return nil
}

// Pause suspends turn events until Resume. Counters are untouched.
func (c *Controller) Pause(ctx context.Context) (err error) {
	_, end, err := c.begin(ctx, "pause")
	if err != nil {
		return err
	}
	defer end(&err)
	c.update(func(s *session.State) { s.Paused = true })
	return nil
}

// Resume lifts a Pause.
func (c *Controller) Resume(ctx context.Context) (err error) {
	_, end, err := c.begin(ctx, "resume")
	if err != nil {
		return err
	}
	defer end(&err)
	c.update(func(s *session.State) { s.Paused = false })
	return nil
}

// ResetConversation clears the turns and replaces the tutor's memory. Mode
// and counters are kept.
func (c *Controller) ResetConversation(ctx context.Context) (err error) {
	_, end, err := c.begin(ctx, "reset_conversation")
	if err != nil {
		return err
	}
	defer end(&err)
	c.resetConversation()
	return nil
}

// ResetSession is the full reset: conversation, memory, mode selection and
// runtime state. Settings (level, speed) are kept.
func (c *Controller) ResetSession(ctx context.Context) (err error) {
	ctx, end, err := c.begin(ctx, "reset_session")
	if err != nil {
		return err
	}
	defer end(&err)

	c.tutor.ResetMemory()
	c.clips.reset()
	c.update(func(s *session.State) { s.ResetSession() })
	c.enter(PhaseIdle)
	observe.Logger(ctx).Info("session reset")
	return nil
}

func (c *Controller) resetConversation() {
	c.tutor.ResetMemory()
	c.clips.reset()
	c.update(func(s *session.State) { s.ResetConversation() })
}

// ---- settings ----

// SelectMode switches to mode m. Selecting a different mode re-initialises
// every mode's runtime state and stops the session; re-selecting the
// current mode changes nothing. It reports whether the mode changed.
func (c *Controller) SelectMode(ctx context.Context, m session.Mode) (changed bool, err error) {
	_, end, err := c.begin(ctx, "select_mode")
	if err != nil {
		return false, err
	}
	defer end(&err)

	if !m.Valid() {
		return false, fmt.Errorf("%w: mode %q", ErrInvalid, m)
	}
	c.update(func(s *session.State) { changed = s.SwitchMode(m) })
	if changed {
		c.enter(PhaseIdle)
	}
	return changed, nil
}

// SetLevel changes the learner's English level.
func (c *Controller) SetLevel(ctx context.Context, l session.Level) (err error) {
	_, end, err := c.begin(ctx, "set_level")
	if err != nil {
		return err
	}
	defer end(&err)

	if !l.Valid() {
		return fmt.Errorf("%w: level %q", ErrInvalid, l)
	}
	c.update(func(s *session.State) { s.Level = l })
	return nil
}

// SetSpeed changes the playback speed of later clips.
func (c *Controller) SetSpeed(ctx context.Context, sp session.Speed) (err error) {
	_, end, err := c.begin(ctx, "set_speed")
	if err != nil {
		return err
	}
	defer end(&err)

	if !sp.Valid() {
		return fmt.Errorf("%w: speed %v", ErrInvalid, sp)
	}
	c.update(func(s *session.State) { s.Speed = sp })
	return nil
}

// ---- turns ----

// SubmitAudio handles a finished recording. In free conversation it is the
// learner's utterance; in shadowing it is the repetition of the current
// problem. An empty recording returns [voice.ErrCaptureEmpty] and changes
// nothing.
func (c *Controller) SubmitAudio(ctx context.Context, data []byte) (out Outcome, err error) {
	ctx, end, err := c.begin(ctx, "submit_audio")
	if err != nil {
		return out, err
	}
	defer end(&err)

	if err := c.requireRunning(); err != nil {
		return out, err
	}
	switch c.state.Mode {
	case session.ModeDictation:
		return out, fmt.Errorf("%w: dictation answers are typed", ErrWrongMode)
	case session.ModeShadowing:
		if !c.state.Active().PendingAudioInput {
			return out, ErrNoProblem
		}
	}

	wav, err := c.voice.Capture(data)
	if err != nil {
		if errors.Is(err, voice.ErrCaptureEmpty) {
			return out, err
		}
		return out, fmt.Errorf("controller: capture: %w", err)
	}

	tr, err := c.transcribe(ctx, wav)
	if err != nil {
		return out, c.fail(ctx, &out, "transcribe", WarnSpeechFailed, err)
	}
	if tr.Warning != "" {
		out.warn(tr.Warning)
		c.metrics.RecordWarning(ctx, warningKind(tr.Warning))
	}

	if c.state.Mode == session.ModeShadowing {
		err = c.evaluateAnswer(ctx, &out, tr.Text)
	} else {
		err = c.converse(ctx, &out, tr.Text)
	}
	return out, err
}

// SubmitText handles typed input: a free-conversation utterance or a
// dictation answer. Blank text returns [voice.ErrCaptureEmpty].
func (c *Controller) SubmitText(ctx context.Context, text string) (out Outcome, err error) {
	ctx, end, err := c.begin(ctx, "submit_text")
	if err != nil {
		return out, err
	}
	defer end(&err)

	if err := c.requireRunning(); err != nil {
		return out, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return out, voice.ErrCaptureEmpty
	}

	switch c.state.Mode {
	case session.ModeShadowing:
		return out, fmt.Errorf("%w: shadowing answers are spoken", ErrWrongMode)
	case session.ModeDictation:
		if !c.state.ChatOpen {
			return out, ErrNoProblem
		}
		prev := c.state.Active().PendingChatMessage
		c.update(func(s *session.State) { s.Active().PendingChatMessage = text })
		if err := c.evaluateAnswer(ctx, &out, text); err != nil {
			c.update(func(s *session.State) { s.Active().PendingChatMessage = prev })
			return out, err
		}
		return out, nil
	}
	return out, c.converse(ctx, &out, text)
}

// NextProblem starts the next shadowing or dictation round. It fails with
// [ErrAnswerPending] while the current problem still waits for an answer.
func (c *Controller) NextProblem(ctx context.Context) (out Outcome, err error) {
	ctx, end, err := c.begin(ctx, "next_problem")
	if err != nil {
		return out, err
	}
	defer end(&err)

	if err := c.requireRunning(); err != nil {
		return out, err
	}
	if !c.state.Mode.Drill() {
		return out, fmt.Errorf("%w: no problems in free conversation", ErrWrongMode)
	}
	if c.awaitingAnswer() {
		return out, ErrAnswerPending
	}
	c.enter(PhaseAwaitingProblemGeneration)
	err = c.presentProblem(ctx, &out)
	return out, err
}

func (c *Controller) awaitingAnswer() bool {
	switch c.state.Mode {
	case session.ModeShadowing:
		return c.state.Active().PendingAudioInput
	case session.ModeDictation:
		return c.state.ChatOpen
	}
	return false
}

func warningKind(w string) string {
	switch w {
	case voice.WarnShortAudio:
		return "short_audio"
	case voice.WarnUnrecognized:
		return "unrecognized"
	}
	return "other"
}
