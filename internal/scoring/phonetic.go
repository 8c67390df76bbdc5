package scoring

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// defaultPhoneticThreshold is the minimum Jaro-Winkler similarity for a
	// pair whose Double Metaphone codes overlap.
	defaultPhoneticThreshold = 0.70

	// defaultFuzzyThreshold is the minimum Jaro-Winkler similarity for a pair
	// without any phonetic overlap. Higher, because spelling alone is weaker
	// evidence of a mishearing.
	defaultFuzzyThreshold = 0.85
)

// Option is a functional option for configuring a Matcher.
type Option func(*Matcher)

// WithPhoneticThreshold overrides the phonetic-overlap similarity floor.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold overrides the spelling-only similarity floor.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher decides whether a word the learner produced is a near miss of an
// expected word: same sound (Double Metaphone) and similar spelling
// (Jaro-Winkler), or very similar spelling alone.
//
// Matcher holds no mutable state and is safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a Matcher with default thresholds.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the candidate closest to expected. A phonetic match always
// beats a spelling-only match; within a class the higher similarity wins and
// ties keep the earlier candidate.
func (m *Matcher) Match(expected string, candidates []string) (best string, similarity float64, ok bool) {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" || len(candidates) == 0 {
		return "", 0, false
	}
	want := codes(expected)

	var bestPhonetic bool
	for _, c := range candidates {
		lc := strings.ToLower(strings.TrimSpace(c))
		if lc == "" {
			continue
		}
		jw := matchr.JaroWinkler(expected, lc, false)
		phonetic := overlap(want, codes(lc))

		switch {
		case phonetic && jw >= m.phoneticThreshold:
			if !bestPhonetic || jw > similarity {
				best, similarity, bestPhonetic, ok = c, jw, true, true
			}
		case !phonetic && !bestPhonetic && jw >= m.fuzzyThreshold:
			if jw > similarity {
				best, similarity, ok = c, jw, true
			}
		}
	}
	return best, similarity, ok
}

// codes returns the non-empty Double Metaphone codes of a word.
func codes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func overlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
