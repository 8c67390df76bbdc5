package session

import (
	"fmt"
	"slices"
	"strconv"
)

// Mode is one of the three drills. The zero value [ModeNone] means no mode
// has been selected yet.
type Mode string

const (
	ModeNone             Mode = ""
	ModeFreeConversation Mode = "free_conversation"
	ModeShadowing        Mode = "shadowing"
	ModeDictation        Mode = "dictation"
)

// Modes lists every selectable mode in display order.
var Modes = []Mode{ModeFreeConversation, ModeShadowing, ModeDictation}

// Valid reports whether m is one of [Modes].
func (m Mode) Valid() bool {
	return slices.Contains(Modes, m)
}

// Drill reports whether m runs problem rounds (shadowing or dictation).
func (m Mode) Drill() bool {
	return m == ModeShadowing || m == ModeDictation
}

// Label returns the learner-facing name of m.
func (m Mode) Label() string {
	switch m {
	case ModeFreeConversation:
		return "日常英会話"
	case ModeShadowing:
		return "シャドーイング"
	case ModeDictation:
		return "ディクテーション"
	}
	return ""
}

// ParseMode accepts either the identifier or the label of a mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if s == string(m) || s == m.Label() {
			return m, nil
		}
	}
	return ModeNone, fmt.Errorf("session: unknown mode %q", s)
}

// Level is the learner's English level.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Levels lists every level from easiest to hardest.
var Levels = []Level{LevelBeginner, LevelIntermediate, LevelAdvanced}

// DefaultLevel is the level of a new session.
const DefaultLevel = LevelBeginner

// Valid reports whether l is one of [Levels].
func (l Level) Valid() bool {
	return slices.Contains(Levels, l)
}

// Label returns the Japanese name of l. Prompts are rendered with the label.
func (l Level) Label() string {
	switch l {
	case LevelBeginner:
		return "初級者"
	case LevelIntermediate:
		return "中級者"
	case LevelAdvanced:
		return "上級者"
	}
	return ""
}

// ParseLevel accepts either the identifier or the label of a level.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels {
		if s == string(l) || s == l.Label() {
			return l, nil
		}
	}
	return "", fmt.Errorf("session: unknown level %q", s)
}

// Speed is a playback speed factor.
type Speed float64

// Speeds lists the selectable playback speeds, fastest first.
var Speeds = []Speed{2.0, 1.5, 1.2, 1.0, 0.8, 0.6}

// DefaultSpeed is normal playback.
const DefaultSpeed Speed = 1.0

// Valid reports whether s is one of [Speeds].
func (s Speed) Valid() bool {
	return slices.Contains(Speeds, s)
}

func (s Speed) String() string {
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// ParseSpeed validates a speed given as a number.
func ParseSpeed(f float64) (Speed, error) {
	s := Speed(f)
	if !s.Valid() {
		return 0, fmt.Errorf("session: unsupported speed %v", f)
	}
	return s, nil
}
