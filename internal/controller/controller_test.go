package controller

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kamihatanoadoresu/english-conversation/internal/observe"
	"github.com/kamihatanoadoresu/english-conversation/internal/prompt"
	"github.com/kamihatanoadoresu/english-conversation/internal/session"
	"github.com/kamihatanoadoresu/english-conversation/internal/voice"
	"github.com/kamihatanoadoresu/english-conversation/pkg/audio"
	llmmock "github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm/mock"
	sttmock "github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt/mock"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts"
	ttsmock "github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts/mock"
	"github.com/kamihatanoadoresu/english-conversation/pkg/types"
)

func correction(corr, trans string) string {
	return prompt.CorrectionStart + "\n" + corr + "\n" + prompt.CorrectionEnd + "\n\n" +
		prompt.TranslationStart + "\n" + trans + "\n" + prompt.TranslationEnd
}

// silence returns a mono 16 kHz WAV of length d.
func silence(d time.Duration) []byte {
	frames := int(d * 16000 / time.Second)
	return audio.EncodeWAV(audio.PCM{
		Data:   make([]byte, frames*2),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	})
}

type harness struct {
	c       *Controller
	llm     *llmmock.Provider
	stt     *sttmock.Provider
	tts     *ttsmock.Provider
	scratch *audio.Scratch
	voice   Voice
	reader  *sdkmetric.ManualReader
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		llm: &llmmock.Provider{},
		stt: &sttmock.Provider{Text: "I like coffee."},
		tts: &ttsmock.Provider{Speech: &tts.Speech{Data: silence(time.Second), Format: tts.FormatWAV}},
	}
	var err error
	if h.scratch, err = audio.NewScratch(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	vp, err := voice.New(h.stt, h.tts, h.scratch)
	if err != nil {
		t.Fatal(err)
	}
	h.voice = vp

	h.reader = sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	h.c = New("session-1", prompt.New(h.llm), h.voice, append([]Option{WithMetrics(m)}, opts...)...)
	return h
}

// script queues model answers in call order.
func (h *harness) script(responses ...string) {
	h.llm.Responses = append(h.llm.Responses, responses...)
}

func (h *harness) selectAndStart(t *testing.T, m session.Mode) Outcome {
	t.Helper()
	ctx := context.Background()
	if _, err := h.c.SelectMode(ctx, m); err != nil {
		t.Fatalf("SelectMode: %v", err)
	}
	out, err := h.c.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return out
}

func (h *harness) turnsMetric(t *testing.T, mode session.Mode) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "eikaiwa.turns" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				if v, _ := dp.Attributes.Value("mode"); v.AsString() == string(mode) {
					return dp.Value
				}
			}
		}
	}
	return 0
}

// promptText flattens everything sent to the model in one call.
func promptText(call llmmock.CompleteCall) string {
	var sb strings.Builder
	sb.WriteString(call.Req.SystemPrompt)
	for _, m := range call.Req.Messages {
		sb.WriteString("\n")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// ---- preconditions ----

func TestEvents_Preconditions(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	if _, err := h.c.Start(ctx); !errors.Is(err, ErrNoMode) {
		t.Errorf("Start without mode: %v, want ErrNoMode", err)
	}
	if _, err := h.c.SubmitText(ctx, "hello"); !errors.Is(err, ErrNoMode) {
		t.Errorf("SubmitText without mode: %v, want ErrNoMode", err)
	}

	if _, err := h.c.SelectMode(ctx, session.ModeFreeConversation); err != nil {
		t.Fatal(err)
	}
	if _, err := h.c.SubmitText(ctx, "hello"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SubmitText before Start: %v, want ErrNotStarted", err)
	}
	if _, err := h.c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.c.NextProblem(ctx); !errors.Is(err, ErrWrongMode) {
		t.Errorf("NextProblem in free conversation: %v, want ErrWrongMode", err)
	}
	if _, err := h.c.SubmitText(ctx, "   "); !errors.Is(err, voice.ErrCaptureEmpty) {
		t.Errorf("blank text: %v, want ErrCaptureEmpty", err)
	}
	if n := len(h.llm.Calls()); n != 0 {
		t.Errorf("model called %d times by rejected events", n)
	}
}

func TestSettings_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if _, err := h.c.SelectMode(ctx, "karaoke"); !errors.Is(err, ErrInvalid) {
		t.Errorf("SelectMode: %v", err)
	}
	if err := h.c.SetLevel(ctx, "native"); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetLevel: %v", err)
	}
	if err := h.c.SetSpeed(ctx, 1.1); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetSpeed: %v", err)
	}
	if err := h.c.SetLevel(ctx, session.LevelAdvanced); err != nil {
		t.Fatal(err)
	}
	if err := h.c.SetSpeed(ctx, 0.8); err != nil {
		t.Fatal(err)
	}
	st := h.c.Snapshot().State
	if st.Level != session.LevelAdvanced || st.Speed != 0.8 {
		t.Errorf("settings = %q %v", st.Level, st.Speed)
	}
}

// ---- free conversation ----

func TestFreeConversation_TextTurn(t *testing.T) {
	ctx := context.Background()
	var phases []Phase
	h := newHarness(t, WithTransitionHook(func(_, to Phase) { phases = append(phases, to) }))
	h.selectAndStart(t, session.ModeFreeConversation)
	phases = nil

	h.script("That sounds fun! Which park?", correction("I went to the park yesterday.\n過去形を使いましょう。", "楽しそうですね！どの公園ですか？"))
	out, err := h.c.SubmitText(ctx, "I go to park yesterday.")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}

	snap := h.c.Snapshot()
	turns := snap.State.Turns[1:] // after the welcome turn
	want := []struct {
		role string
		kind session.TurnKind
	}{
		{types.RoleUser, session.KindReply},
		{types.RoleAssistant, session.KindReply},
		{types.RoleAssistant, session.KindCorrection},
		{types.RoleAssistant, session.KindTranslation},
	}
	if len(turns) != len(want) {
		t.Fatalf("turns = %+v", turns)
	}
	for i, w := range want {
		if turns[i].Role != w.role || turns[i].Kind != w.kind {
			t.Errorf("turn %d = %s/%s, want %s/%s", i, turns[i].Role, turns[i].Kind, w.role, w.kind)
		}
	}
	if turns[0].Text != "I go to park yesterday." || turns[1].Text != "That sounds fun! Which park?" {
		t.Errorf("texts = %q / %q", turns[0].Text, turns[1].Text)
	}
	if turns[1].AudioRef == "" || len(out.Clips) != 1 || out.Clips[0] != turns[1].AudioRef {
		t.Errorf("clip ref = %q, outcome clips = %v", turns[1].AudioRef, out.Clips)
	}
	if wav, ok := h.c.Clip(out.Clips[0]); !ok || len(wav) == 0 {
		t.Error("reply clip not cached")
	}
	if out.Correction == nil || out.Correction.None() {
		t.Errorf("correction = %+v", out.Correction)
	}
	if got := snap.State.Active().TurnCount; got != 1 {
		t.Errorf("TurnCount = %d, want 1", got)
	}
	if snap.Phase != PhaseIdle {
		t.Errorf("phase = %s, want idle", snap.Phase)
	}
	if got := h.turnsMetric(t, session.ModeFreeConversation); got != 1 {
		t.Errorf("turns metric = %d, want 1", got)
	}
	wantPhases := []Phase{PhaseGenerating, PhaseSynthesizing, PhasePlaying, PhaseIdle}
	if !slices.Equal(phases, wantPhases) {
		t.Errorf("phases = %v, want %v", phases, wantPhases)
	}
	if left, _ := h.scratch.Leftovers(); len(left) != 0 {
		t.Errorf("scratch leftovers: %v", left)
	}
}

func TestFreeConversation_AudioTurnWithWarning(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.selectAndStart(t, session.ModeFreeConversation)
	h.stt.Text = "Hello there"

	h.script("Hi! How are you?", correction("PERFECT", "こんにちは！元気ですか？"))
	out, err := h.c.SubmitAudio(ctx, silence(300*time.Millisecond))
	if err != nil {
		t.Fatalf("SubmitAudio: %v", err)
	}
	if !slices.Contains(out.Warnings, voice.WarnShortAudio) {
		t.Errorf("warnings = %v, want short-audio warning", out.Warnings)
	}
	if out.Correction == nil || !out.Correction.None() {
		t.Errorf("PERFECT must yield no correction: %+v", out.Correction)
	}
	st := h.c.Snapshot().State
	if st.Active().TurnCount != 1 {
		t.Error("a transcription warning must not block the turn")
	}
	for _, tr := range st.Turns {
		if tr.Kind == session.KindCorrection {
			t.Error("correction turn appended although none was needed")
		}
	}
}

func TestSubmitAudio_EmptyCaptureIsSilent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.selectAndStart(t, session.ModeFreeConversation)
	before := h.c.Snapshot()

	out, err := h.c.SubmitAudio(ctx, nil)
	if !errors.Is(err, voice.ErrCaptureEmpty) {
		t.Fatalf("err = %v, want ErrCaptureEmpty", err)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", out.Warnings)
	}
	if h.stt.CallCount() != 0 || len(h.llm.Calls()) != 0 {
		t.Error("empty capture reached the providers")
	}
	if got := h.c.Snapshot(); len(got.State.Turns) != len(before.State.Turns) {
		t.Error("empty capture changed the turns")
	}
}

func TestFreeConversation_ParseWarningDegrades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.selectAndStart(t, session.ModeFreeConversation)

	h.script("Great!", "You should say: I went to the park.")
	out, err := h.c.SubmitText(ctx, "I go park.")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if !slices.Contains(out.Warnings, WarnParse) {
		t.Errorf("warnings = %v, want parse warning", out.Warnings)
	}
	if out.Correction.Text != "You should say: I went to the park." {
		t.Errorf("degraded correction = %q", out.Correction.Text)
	}
	if h.c.Snapshot().State.Active().TurnCount != 1 {
		t.Error("parse problems must not abort the turn")
	}
}

// ---- failures ----

func TestFailure_LeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		wantWarn string
	}{
		{
			name: "reply generation",
			setup: func(h *harness) {
				h.llm.ErrOnCall = func(call int) error {
					if call == 1 {
						return errors.New("rate limited")
					}
					return nil
				}
			},
			wantWarn: WarnGenerationFailed,
		},
		{
			name: "correction generation",
			setup: func(h *harness) {
				h.script("Sure!")
				h.llm.ErrOnCall = func(call int) error {
					if call == 2 {
						return errors.New("timeout")
					}
					return nil
				}
			},
			wantWarn: WarnGenerationFailed,
		},
		{
			name: "synthesis",
			setup: func(h *harness) {
				h.script("Sure!", correction("PERFECT", "もちろん！"))
				h.tts.Err = errors.New("quota exceeded")
			},
			wantWarn: WarnSpeechFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			h.selectAndStart(t, session.ModeFreeConversation)
			before := h.c.Snapshot()
			tt.setup(h)

			out, err := h.c.SubmitText(ctx, "My name is Ken.")
			if !errors.Is(err, ErrTurnFailed) {
				t.Fatalf("err = %v, want ErrTurnFailed", err)
			}
			if !slices.Contains(out.Warnings, tt.wantWarn) {
				t.Errorf("warnings = %v, want %q", out.Warnings, tt.wantWarn)
			}
			after := h.c.Snapshot()
			if len(after.State.Turns) != len(before.State.Turns) {
				t.Error("turns changed by a failed turn")
			}
			if after.State.Active().TurnCount != 0 {
				t.Error("TurnCount changed by a failed turn")
			}
			if after.Phase != PhaseIdle {
				t.Errorf("phase = %s, want idle", after.Phase)
			}

			// Memory was not written: the next prompt carries no trace of Ken.
			h.llm.ErrOnCall = nil
			h.tts.Err = nil
			h.llm.Reset()
			h.llm.Responses = nil
			h.script("Hello!", correction("PERFECT", "こんにちは！"))
			if _, err := h.c.SubmitText(ctx, "Hi."); err != nil {
				t.Fatalf("retry: %v", err)
			}
			if p := promptText(h.llm.Calls()[0]); strings.Contains(p, "Ken") {
				t.Errorf("failed turn leaked into memory: %q", p)
			}
		})
	}
}

func TestFailure_DrillAnswerLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name   string
		mode   session.Mode
		answer func(ctx context.Context, c *Controller) (Outcome, error)
	}{
		{
			name: "dictation",
			mode: session.ModeDictation,
			answer: func(ctx context.Context, c *Controller) (Outcome, error) {
				return c.SubmitText(ctx, "I would like a cup of tea")
			},
		},
		{
			name: "shadowing",
			mode: session.ModeShadowing,
			answer: func(ctx context.Context, c *Controller) (Outcome, error) {
				return c.SubmitAudio(ctx, silence(2*time.Second))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			h.stt.Text = "I would like a cup of tea."
			h.script("I would like a cup of tea.")
			h.selectAndStart(t, tt.mode)
			before := h.c.Snapshot()
			h.llm.CompleteErr = errors.New("overloaded")

			out, err := tt.answer(ctx, h.c)
			if !errors.Is(err, ErrTurnFailed) {
				t.Fatalf("err = %v, want ErrTurnFailed", err)
			}
			if !slices.Contains(out.Warnings, WarnGenerationFailed) {
				t.Errorf("warnings = %v, want %q", out.Warnings, WarnGenerationFailed)
			}
			after := h.c.Snapshot()
			if after.State.Active().PendingChatMessage != before.State.Active().PendingChatMessage {
				t.Errorf("PendingChatMessage = %q, want %q",
					after.State.Active().PendingChatMessage, before.State.Active().PendingChatMessage)
			}
			if after.State.ChatOpen != before.State.ChatOpen {
				t.Errorf("ChatOpen = %v, want %v", after.State.ChatOpen, before.State.ChatOpen)
			}
			if after.State.Active().PendingAudioInput != before.State.Active().PendingAudioInput {
				t.Errorf("PendingAudioInput = %v, want %v",
					after.State.Active().PendingAudioInput, before.State.Active().PendingAudioInput)
			}
			if after.State.Active().TurnCount != before.State.Active().TurnCount {
				t.Error("TurnCount changed by a failed turn")
			}
			if len(after.State.Turns) != len(before.State.Turns) {
				t.Error("turns changed by a failed turn")
			}
			if after.Phase != PhaseIdle {
				t.Errorf("phase = %s, want idle", after.Phase)
			}

			// The same problem can still be answered.
			h.llm.CompleteErr = nil
			h.script("【評価】 OK")
			out, err = tt.answer(ctx, h.c)
			if err != nil {
				t.Fatalf("retry: %v", err)
			}
			if out.Evaluation == nil {
				t.Error("retry produced no evaluation")
			}
			if st := h.c.Snapshot().State; st.Active().TurnCount != before.State.Active().TurnCount+1 ||
				st.Active().PendingChatMessage != "" {
				t.Errorf("after retry: %+v", st.Active())
			}
		})
	}
}

func TestFailure_GenerationErrorIsMatchable(t *testing.T) {
	h := newHarness(t)
	h.selectAndStart(t, session.ModeFreeConversation)
	h.llm.CompleteErr = errors.New("boom")

	_, err := h.c.SubmitText(context.Background(), "hello")
	if !errors.Is(err, prompt.ErrGeneration) || !errors.Is(err, ErrTurnFailed) {
		t.Errorf("err = %v, want ErrGeneration and ErrTurnFailed", err)
	}
}

func TestTimeouts_BoundExternalCalls(t *testing.T) {
	h := newHarness(t)
	gate := &gateVoice{Voice: h.voice, release: make(chan struct{})}
	h.c.voice = gate
	h.c.timeouts = Timeouts{Synthesize: 20 * time.Millisecond}
	h.selectAndStart(t, session.ModeFreeConversation)

	h.script("Hello!", correction("PERFECT", "こんにちは"))
	_, err := h.c.SubmitText(context.Background(), "Hi there")
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrTurnFailed) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// ---- shadowing and dictation ----

func TestShadowing_FirstTurn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.script("Could you pass me the salt, please?")

	out := h.selectAndStart(t, session.ModeShadowing)

	if n := len(h.llm.Calls()); n != 1 {
		t.Fatalf("model calls = %d, want exactly one problem", n)
	}
	if n := h.tts.CallCount(); n != 1 {
		t.Fatalf("synthesis calls = %d, want exactly one", n)
	}
	if len(out.Clips) != 1 || h.c.clips.count() != 1 {
		t.Fatalf("clips = %v (cached %d), want one", out.Clips, h.c.clips.count())
	}
	snap := h.c.Snapshot()
	rs := snap.State.Active()
	if rs.IsFirstTurn || !rs.PendingAudioInput {
		t.Errorf("runtime = %+v, want first turn cleared and audio pending", rs)
	}
	if snap.Phase != PhaseAwaitingAudio {
		t.Errorf("phase = %s, want awaiting_audio", snap.Phase)
	}
	if p := snap.State.Problem; p == nil || p.Text != "Could you pass me the salt, please?" || p.AudioRef != out.Clips[0] {
		t.Errorf("problem = %+v", p)
	}

	// No second problem until this one is answered.
	if _, err := h.c.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if _, err := h.c.NextProblem(ctx); !errors.Is(err, ErrAnswerPending) {
		t.Errorf("NextProblem = %v, want ErrAnswerPending", err)
	}
	if _, err := h.c.SubmitText(ctx, "typed"); !errors.Is(err, ErrWrongMode) {
		t.Errorf("SubmitText in shadowing = %v, want ErrWrongMode", err)
	}
	if n := len(h.llm.Calls()); n != 1 {
		t.Errorf("model calls = %d after rejected events, want 1", n)
	}
}

func TestShadowing_EvaluationRounds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.script("Could you pass me the salt, please?", "【評価】 Very good.", "Where is the station?", "【評価】 Good.")
	h.selectAndStart(t, session.ModeShadowing)

	h.stt.Text = "Could you pass me the salt please"
	out, err := h.c.SubmitAudio(ctx, silence(2*time.Second))
	if err != nil {
		t.Fatalf("SubmitAudio: %v", err)
	}
	if out.Evaluation == nil || out.Evaluation.Verdict != "【評価】 Very good." {
		t.Fatalf("evaluation = %+v", out.Evaluation)
	}
	if out.Evaluation.Score.Accuracy != 1 {
		t.Errorf("accuracy = %v, want 1", out.Evaluation.Score.Accuracy)
	}
	first := h.llm.Calls()[1].Req
	if len(first.Messages) != 1 {
		t.Errorf("first evaluation replayed history: %d messages", len(first.Messages))
	}
	if !strings.Contains(first.SystemPrompt, "Could you pass me the salt, please?") {
		t.Error("evaluation prompt lacks the problem")
	}

	snap := h.c.Snapshot()
	rs := snap.State.Active()
	if rs.TurnCount != 1 || rs.IsFirstEvaluation || rs.PendingAudioInput {
		t.Errorf("runtime after evaluation = %+v", rs)
	}
	if snap.Phase != PhaseAwaitingProblemGeneration {
		t.Errorf("phase = %s", snap.Phase)
	}
	if _, err := h.c.SubmitAudio(ctx, silence(time.Second)); !errors.Is(err, ErrNoProblem) {
		t.Errorf("answer without problem = %v, want ErrNoProblem", err)
	}

	if _, err := h.c.NextProblem(ctx); err != nil {
		t.Fatalf("NextProblem: %v", err)
	}
	h.stt.Text = "Where is the nation"
	out, err = h.c.SubmitAudio(ctx, silence(2*time.Second))
	if err != nil {
		t.Fatalf("second SubmitAudio: %v", err)
	}
	if got := len(h.llm.Calls()[3].Req.Messages); got <= 1 {
		t.Errorf("later evaluation messages = %d, want history included", got)
	}
	if out.Evaluation.Score.Accuracy >= 1 || len(out.Evaluation.Score.Missing) == 0 {
		t.Errorf("score = %+v, want a miss", out.Evaluation.Score)
	}
	if got := h.c.Snapshot().State.Active().TurnCount; got != 2 {
		t.Errorf("TurnCount = %d, want 2", got)
	}
}

func TestDrill_CountsEveryTurn(t *testing.T) {
	tests := []struct {
		name   string
		mode   session.Mode
		answer func(h *harness, round int) (Outcome, error)
	}{
		{
			name: "dictation typed answers",
			mode: session.ModeDictation,
			answer: func(h *harness, round int) (Outcome, error) {
				return h.c.SubmitText(context.Background(), "I am fine thank you")
			},
		},
		{
			name: "shadowing with a short recording",
			mode: session.ModeShadowing,
			answer: func(h *harness, round int) (Outcome, error) {
				d := 2 * time.Second
				if round == 2 {
					d = 300 * time.Millisecond
				}
				return h.c.SubmitAudio(context.Background(), silence(d))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.stt.Text = "I am fine thank you"
			for range 3 {
				h.script("I am fine, thank you.", "【評価】 OK")
			}
			h.selectAndStart(t, tt.mode)

			var counts []int
			warned := false
			for round := 1; round <= 3; round++ {
				if round > 1 {
					if _, err := h.c.NextProblem(context.Background()); err != nil {
						t.Fatalf("round %d NextProblem: %v", round, err)
					}
				}
				out, err := tt.answer(h, round)
				if err != nil {
					t.Fatalf("round %d: %v", round, err)
				}
				warned = warned || len(out.Warnings) > 0
				counts = append(counts, h.c.Snapshot().State.Active().TurnCount)
			}
			if !slices.Equal(counts, []int{1, 2, 3}) {
				t.Errorf("counts = %v, want [1 2 3]", counts)
			}
			if tt.mode == session.ModeShadowing && !warned {
				t.Error("expected the short recording to produce a warning")
			}
			if got := h.turnsMetric(t, tt.mode); got != 3 {
				t.Errorf("turns metric = %d, want 3", got)
			}
		})
	}
}

func TestDictation_Flow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.script("I would like a cup of coffee.", "【評価】 Nice.")
	h.selectAndStart(t, session.ModeDictation)

	st := h.c.Snapshot().State
	if !st.ChatOpen || st.Active().IsFirstTurn {
		t.Fatalf("after start: chatOpen=%v runtime=%+v", st.ChatOpen, st.Active())
	}
	if _, err := h.c.SubmitAudio(ctx, silence(time.Second)); !errors.Is(err, ErrWrongMode) {
		t.Errorf("SubmitAudio in dictation = %v, want ErrWrongMode", err)
	}

	out, err := h.c.SubmitText(ctx, "I would like a cup of coffee")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if out.Evaluation == nil || out.Evaluation.Score.Accuracy != 1 {
		t.Errorf("evaluation = %+v", out.Evaluation)
	}
	st = h.c.Snapshot().State
	if st.ChatOpen || st.Active().PendingChatMessage != "" {
		t.Errorf("chat still open after evaluation: %+v", st.Active())
	}
	if _, err := h.c.SubmitText(ctx, "again"); !errors.Is(err, ErrNoProblem) {
		t.Errorf("second answer = %v, want ErrNoProblem", err)
	}
}

func TestDrill_ProblemFailureCanBeRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.llm.CompleteErr = errors.New("overloaded")
	if _, err := h.c.SelectMode(ctx, session.ModeShadowing); err != nil {
		t.Fatal(err)
	}
	if _, err := h.c.Start(ctx); !errors.Is(err, ErrTurnFailed) {
		t.Fatalf("Start = %v, want ErrTurnFailed", err)
	}
	snap := h.c.Snapshot()
	if snap.Phase != PhaseIdle || snap.State.Problem != nil || !snap.State.Active().IsFirstTurn {
		t.Fatalf("after failure: phase=%s problem=%v runtime=%+v", snap.Phase, snap.State.Problem, snap.State.Active())
	}

	h.llm.CompleteErr = nil
	h.script("Nice to meet you.")
	if _, err := h.c.NextProblem(ctx); err != nil {
		t.Fatalf("NextProblem retry: %v", err)
	}
	if h.c.Snapshot().State.Problem == nil {
		t.Error("retry produced no problem")
	}
}

// ---- mode switch and resets ----

func TestSelectMode_ReinitialisesRuntime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.script("Sentence one.", "【評価】 ok")
	h.selectAndStart(t, session.ModeDictation)
	if _, err := h.c.SubmitText(ctx, "Sentence one."); err != nil {
		t.Fatal(err)
	}

	changed, err := h.c.SelectMode(ctx, session.ModeShadowing)
	if err != nil || !changed {
		t.Fatalf("SelectMode = %v, %v", changed, err)
	}
	st := h.c.Snapshot().State
	active := 0
	for _, rs := range st.Runtime {
		if rs.Active {
			active++
		}
	}
	if active != 1 || st.Active().TurnCount != 0 {
		t.Errorf("active=%d count=%d", active, st.Active().TurnCount)
	}
	if st.Runtime[session.ModeDictation].TurnCount != 0 {
		t.Error("previous mode counter not zeroed")
	}
	if st.Started || st.ChatOpen || st.Problem != nil {
		t.Error("switch must stop the session and drop the problem")
	}

	changed, err = h.c.SelectMode(ctx, session.ModeShadowing)
	if err != nil || changed {
		t.Errorf("re-selecting = %v, %v; want no change", changed, err)
	}
}

func TestResetConversation_NoPriorTokens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.selectAndStart(t, session.ModeFreeConversation)

	h.script("Nice to meet you, Ken!", correction("PERFECT", "はじめまして、ケン！"))
	if _, err := h.c.SubmitText(ctx, "My name is Ken."); err != nil {
		t.Fatal(err)
	}
	if err := h.c.ResetConversation(ctx); err != nil {
		t.Fatal(err)
	}
	snap := h.c.Snapshot()
	if len(snap.State.Turns) != 0 {
		t.Errorf("turns after reset = %d", len(snap.State.Turns))
	}
	if snap.State.Mode != session.ModeFreeConversation || snap.State.Active().TurnCount != 1 {
		t.Error("ResetConversation must keep mode and counters")
	}
	if h.c.clips.count() != 0 {
		t.Error("clips survived the reset")
	}

	h.llm.Reset()
	h.script("Hello!", correction("PERFECT", "こんにちは！"))
	if _, err := h.c.SubmitText(ctx, "Hello."); err != nil {
		t.Fatal(err)
	}
	for _, call := range h.llm.Calls() {
		if p := promptText(call); strings.Contains(p, "Ken") {
			t.Errorf("prompt after reset carries prior tokens: %q", p)
		}
	}
}

func TestResetSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.script("A sentence.")
	h.selectAndStart(t, session.ModeShadowing)
	if err := h.c.SetLevel(ctx, session.LevelIntermediate); err != nil {
		t.Fatal(err)
	}

	if err := h.c.ResetSession(ctx); err != nil {
		t.Fatal(err)
	}
	snap := h.c.Snapshot()
	st := snap.State
	if st.Mode != session.ModeNone || st.PreviousMode != session.ModeNone || st.Started || st.Problem != nil || len(st.Turns) != 0 {
		t.Errorf("state after ResetSession = %+v", st)
	}
	if st.Level != session.LevelIntermediate {
		t.Error("settings must survive ResetSession")
	}
	if snap.Phase != PhaseIdle {
		t.Errorf("phase = %s", snap.Phase)
	}
	if changed, _ := h.c.SelectMode(ctx, session.ModeShadowing); !changed {
		t.Error("mode must be selectable again after ResetSession")
	}
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.script("Sentence.", "【評価】 ok", "Next sentence.")
	h.selectAndStart(t, session.ModeDictation)
	if _, err := h.c.SubmitText(ctx, "Sentence."); err != nil {
		t.Fatal(err)
	}
	if _, err := h.c.NextProblem(ctx); err != nil {
		t.Fatal(err)
	}

	if err := h.c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	st := h.c.Snapshot().State
	if st.Started || st.ChatOpen || st.Problem != nil || len(st.Turns) != 0 {
		t.Errorf("state after Stop = %+v", st)
	}
	if st.Active().TurnCount != 1 {
		t.Errorf("Stop must keep counters, got %d", st.Active().TurnCount)
	}
	if _, err := h.c.SubmitText(ctx, "x"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("after Stop: %v, want ErrNotStarted", err)
	}
}

func TestPause(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.selectAndStart(t, session.ModeFreeConversation)

	if err := h.c.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.c.SubmitText(ctx, "hello"); !errors.Is(err, ErrPaused) {
		t.Errorf("SubmitText while paused = %v", err)
	}
	if err := h.c.SetSpeed(ctx, 1.5); err != nil {
		t.Errorf("settings must work while paused: %v", err)
	}
	if err := h.c.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	h.script("Hi!", correction("PERFECT", "やあ！"))
	if _, err := h.c.SubmitText(ctx, "hello"); err != nil {
		t.Errorf("SubmitText after resume: %v", err)
	}
}

// ---- concurrency ----

// gateVoice blocks Synthesize until release is closed or ctx ends.
type gateVoice struct {
	Voice
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gateVoice) Synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	g.once.Do(func() {
		if g.entered != nil {
			close(g.entered)
		}
	})
	select {
	case <-g.release:
		return g.Voice.Synthesize(ctx, text, speed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestBusy_RejectsConcurrentEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	gate := &gateVoice{Voice: h.voice, entered: make(chan struct{}), release: make(chan struct{})}
	h.c.voice = gate
	h.selectAndStart(t, session.ModeFreeConversation)

	h.script("Hi!", correction("PERFECT", "やあ！"))
	done := make(chan error, 1)
	go func() {
		_, err := h.c.SubmitText(ctx, "hello")
		done <- err
	}()
	<-gate.entered

	if _, err := h.c.SubmitText(ctx, "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent SubmitText = %v, want ErrBusy", err)
	}
	if err := h.c.ResetConversation(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent reset = %v, want ErrBusy", err)
	}
	if snap := h.c.Snapshot(); snap.Phase != PhaseSynthesizing {
		t.Errorf("snapshot phase = %s, want synthesizing", snap.Phase)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("first event: %v", err)
	}
	if got := h.c.Snapshot().State.Active().TurnCount; got != 1 {
		t.Errorf("TurnCount = %d, want 1", got)
	}
}

func TestClipCache_EvictsOldest(t *testing.T) {
	c := newClipCache(0)
	var ids []string
	for i := range DefaultClipCacheSize + 1 {
		ids = append(ids, c.put([]byte{byte(i)}))
	}
	if c.count() != DefaultClipCacheSize {
		t.Errorf("count = %d", c.count())
	}
	if _, ok := c.get(ids[0]); ok {
		t.Error("oldest clip not evicted")
	}
	if wav, ok := c.get(ids[len(ids)-1]); !ok || wav[0] != byte(DefaultClipCacheSize) {
		t.Error("newest clip missing")
	}
	c.reset()
	if c.count() != 0 {
		t.Error("reset left clips")
	}
}

func TestWithSettings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithSettings(session.LevelAdvanced, 0.8))
	snap := h.c.Snapshot()
	if snap.State.Level != session.LevelAdvanced || snap.State.Speed != 0.8 {
		t.Errorf("settings = %q %v", snap.State.Level, snap.State.Speed)
	}

	h = newHarness(t, WithSettings("native", 7))
	snap = h.c.Snapshot()
	if snap.State.Level != session.DefaultLevel || snap.State.Speed != session.DefaultSpeed {
		t.Errorf("invalid settings applied: %q %v", snap.State.Level, snap.State.Speed)
	}
}
