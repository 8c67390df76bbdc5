// Package session holds the per-learner practice state: selected mode, level
// and speed, the conversation turns on screen, the current problem, and one
// [ModeState] per drill.
//
// A [State] is a plain value owned by exactly one controller. It carries no
// locks; callers serialise access.
package session

import (
	"slices"
	"time"

	"github.com/kamihatanoadoresu/english-conversation/pkg/types"
)

// WelcomeMessage is shown as the first assistant turn of a new session.
const WelcomeMessage = "こちらは生成AIによる音声英会話の練習アプリです。何度も繰り返し練習し、英語力をアップさせましょう。"

// TurnKind tells the UI how to render a [Turn].
type TurnKind string

const (
	KindReply       TurnKind = "reply"
	KindProblem     TurnKind = "problem"
	KindEvaluation  TurnKind = "evaluation"
	KindCorrection  TurnKind = "correction"
	KindTranslation TurnKind = "translation"
	KindWarning     TurnKind = "warning"
	KindWelcome     TurnKind = "welcome"
)

// Turn is one role-tagged message in the conversation.
type Turn struct {
	Role     string    `json:"role"`
	Text     string    `json:"text"`
	AudioRef string    `json:"audio_ref,omitempty"`
	Kind     TurnKind  `json:"kind"`
	At       time.Time `json:"at"`
}

// Problem is the sentence of the current shadowing or dictation round.
type Problem struct {
	Text      string    `json:"text"`
	AudioRef  string    `json:"audio_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ModeState is the runtime state of one mode. Each mode owns its own
// instance; at most one is Active.
type ModeState struct {
	Active        bool `json:"active"`
	ButtonPressed bool `json:"button_pressed"`
	TurnCount     int  `json:"turn_count"`

	// IsFirstTurn is true until the first problem of the mode has been
	// presented.
	IsFirstTurn bool `json:"is_first_turn"`

	// IsFirstEvaluation is true until the first evaluation has been
	// committed. Later evaluations include conversation history.
	IsFirstEvaluation bool `json:"is_first_evaluation"`

	// PendingAudioInput is set in shadowing while a problem waits for the
	// spoken repetition.
	PendingAudioInput bool `json:"pending_audio_input"`

	// PendingChatMessage holds the typed dictation answer being evaluated.
	PendingChatMessage string `json:"pending_chat_message,omitempty"`
}

func newModeState() *ModeState {
	return &ModeState{IsFirstTurn: true, IsFirstEvaluation: true}
}

// State is the complete practice state of one session.
type State struct {
	Mode         Mode                `json:"mode"`
	PreviousMode Mode                `json:"previous_mode"`
	Level        Level               `json:"level"`
	Speed        Speed               `json:"speed"`
	Started      bool                `json:"started"`
	ChatOpen     bool                `json:"chat_open"`
	Paused       bool                `json:"paused"`
	Turns        []Turn              `json:"turns"`
	Problem      *Problem            `json:"problem,omitempty"`
	Runtime      map[Mode]*ModeState `json:"runtime"`
}

// New returns an initialised state with no mode selected and the welcome
// turn on screen.
func New() *State {
	s := &State{}
	s.InitializeState()
	s.Turns = append(s.Turns, Turn{
		Role: types.RoleAssistant,
		Text: WelcomeMessage,
		Kind: KindWelcome,
		At:   time.Now(),
	})
	return s
}

// InitializeState fills every missing field with its default and never
// overwrites a value already present. Calling it repeatedly is a no-op.
func (s *State) InitializeState() {
	if s.Level == "" {
		s.Level = DefaultLevel
	}
	if s.Speed == 0 {
		s.Speed = DefaultSpeed
	}
	if s.Turns == nil {
		s.Turns = []Turn{}
	}
	if s.Runtime == nil {
		s.Runtime = make(map[Mode]*ModeState, len(Modes))
	}
	for _, m := range Modes {
		if s.Runtime[m] == nil {
			s.Runtime[m] = newModeState()
		}
	}
}

// ResetConversation clears the turns on screen. Mode, counters and flags are
// left alone; the owner replaces conversation memory alongside.
func (s *State) ResetConversation() {
	s.Turns = []Turn{}
}

// ResetSession is the full reset: the conversation is cleared, no mode is
// selected, and the session is neither started nor waiting for a typed
// answer. The next SwitchMode re-enters cleanly.
func (s *State) ResetSession() {
	s.ResetConversation()
	s.Mode = ModeNone
	s.PreviousMode = ModeNone
	s.Started = false
	s.ChatOpen = false
	s.Paused = false
	s.Problem = nil
	s.Runtime = nil
	s.InitializeState()
}

// SwitchMode selects m. It reports false and changes nothing when m is
// already the current mode or is not a valid mode.
//
// Switching re-initialises every mode's runtime state, activates the one for
// m, stops the session and drops the current problem.
func (s *State) SwitchMode(m Mode) bool {
	if !m.Valid() || m == s.PreviousMode {
		return false
	}
	s.Mode = m
	s.Started = false
	s.ChatOpen = false
	s.Problem = nil
	s.Runtime = make(map[Mode]*ModeState, len(Modes))
	for _, mode := range Modes {
		s.Runtime[mode] = newModeState()
	}
	s.Runtime[m].Active = true
	s.PreviousMode = m
	return true
}

// Active returns the runtime state of the current mode, or nil when no mode
// is selected.
func (s *State) Active() *ModeState {
	if !s.Mode.Valid() {
		return nil
	}
	return s.Runtime[s.Mode]
}

// AppendTurn adds t to the conversation, stamping it with the current time
// when At is zero.
func (s *State) AppendTurn(t Turn) {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	s.Turns = append(s.Turns, t)
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := *s
	c.Turns = slices.Clone(s.Turns)
	if s.Problem != nil {
		p := *s.Problem
		c.Problem = &p
	}
	if s.Runtime != nil {
		c.Runtime = make(map[Mode]*ModeState, len(s.Runtime))
		for m, rs := range s.Runtime {
			cp := *rs
			c.Runtime[m] = &cp
		}
	}
	return &c
}
