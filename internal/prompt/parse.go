package prompt

import (
	"fmt"
	"strings"

	"github.com/kamihatanoadoresu/english-conversation/internal/scoring"
)

// Correction is the parsed answer of CorrectAndTranslate.
type Correction struct {
	// Text is the suggested correction with its explanation. Empty when the
	// learner's sentence needs no correction.
	Text string `json:"text"`

	// Translation is the Japanese rendering of the tutor's reply. Empty if
	// the model did not provide one.
	Translation string `json:"translation"`
}

// None reports whether no correction is needed.
func (c Correction) None() bool { return c.Text == "" }

// Evaluation is the feedback shown after a shadowing or dictation answer.
type Evaluation struct {
	// Verdict is the model's structured feedback (【評価】, 【アドバイス】, ...).
	Verdict string `json:"verdict"`

	// Score is the locally computed word-level comparison.
	Score scoring.Result `json:"score"`
}

// ParseCorrection splits a correct-and-translate answer into its sections.
//
// The correction counts as none only when its section is exactly the PERFECT
// sentinel, ignoring case, surrounding space and trailing punctuation. When
// both marker pairs are missing, the first 500 runes of the raw answer become
// the correction and the error wraps ErrParse. A single missing pair leaves
// that field empty and also reports ErrParse.
func ParseCorrection(raw string) (Correction, error) {
	corr, corrOK := section(raw, CorrectionStart, CorrectionEnd)
	trans, transOK := section(raw, TranslationStart, TranslationEnd)

	switch {
	case !corrOK && !transOK:
		c := Correction{}
		if !isPerfect(raw) {
			c.Text = truncateRunes(strings.TrimSpace(raw), correctionMax)
		}
		return c, fmt.Errorf("%w: no section markers", ErrParse)
	case !corrOK:
		return Correction{Translation: trans}, fmt.Errorf("%w: missing correction markers", ErrParse)
	}

	c := Correction{Translation: trans}
	if !isPerfect(corr) {
		c.Text = corr
	}
	if !transOK {
		return c, fmt.Errorf("%w: missing translation markers", ErrParse)
	}
	return c, nil
}

// section returns the trimmed text between start and end.
func section(s, start, end string) (string, bool) {
	i := strings.Index(s, start)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}

// isPerfect reports whether s is the no-correction sentinel.
func isPerfect(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!。！ ")
	return strings.EqualFold(s, correctionOK)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
