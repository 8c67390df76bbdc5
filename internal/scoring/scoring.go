// Package scoring compares a learner's answer with the practice sentence at
// word level. It complements the model's verdict with numbers that do not
// depend on the model: word accuracy, missing and extra words, and words that
// were probably misheard or misspelt rather than left out.
package scoring

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// internBase is the first rune handed out when words are interned into
// single code points (Unicode private use area).
const internBase = 0xE000

// NearMiss pairs an expected word with the learner word that likely stands
// for it.
type NearMiss struct {
	Expected   string  `json:"expected"`
	Got        string  `json:"got"`
	Similarity float64 `json:"similarity"`
}

// Result is the word-level comparison of an answer against a reference.
type Result struct {
	// Accuracy is 1 - edits/len(reference), floored at 0.
	Accuracy float64 `json:"accuracy"`

	// ReferenceWords is the number of words in the reference.
	ReferenceWords int `json:"reference_words"`

	// Edits is the word-level Levenshtein distance.
	Edits int `json:"edits"`

	// Missing lists reference words absent from the answer, in order.
	Missing []string `json:"missing,omitempty"`

	// Extra lists answer words absent from the reference, in order.
	Extra []string `json:"extra,omitempty"`

	// NearMisses pairs missing words with the extra word that sounds or
	// looks like them.
	NearMisses []NearMiss `json:"near_misses,omitempty"`
}

// Scorer computes Results. The zero value is not usable; call New.
type Scorer struct {
	matcher *Matcher
}

// New returns a Scorer using a Matcher built from opts.
func New(opts ...Option) *Scorer {
	return &Scorer{matcher: NewMatcher(opts...)}
}

// Score compares answer against reference. Case and punctuation are ignored;
// apostrophes inside words are kept ("I'd" and "Id" differ).
func (s *Scorer) Score(reference, answer string) Result {
	ref := Words(reference)
	got := Words(answer)

	r := Result{ReferenceWords: len(ref)}
	refRunes, gotRunes := intern(ref, got)
	r.Edits = matchr.Levenshtein(refRunes, gotRunes)
	if len(ref) > 0 {
		r.Accuracy = max(0, 1-float64(r.Edits)/float64(len(ref)))
	} else if len(got) == 0 {
		r.Accuracy = 1
	}

	r.Missing = subtract(ref, got)
	r.Extra = subtract(got, ref)

	unused := append([]string(nil), r.Extra...)
	for _, miss := range r.Missing {
		best, sim, ok := s.matcher.Match(miss, unused)
		if !ok {
			continue
		}
		r.NearMisses = append(r.NearMisses, NearMiss{Expected: miss, Got: best, Similarity: sim})
		unused = removeFirst(unused, best)
	}
	return r
}

// Words lowercases s and splits it into words, dropping punctuation.
func Words(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(strings.ReplaceAll(f, "’", "'"), "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// intern maps every distinct word to one rune so a rune-level edit distance
// becomes a word-level one.
func intern(a, b []string) (string, string) {
	ids := make(map[string]rune)
	enc := func(words []string) string {
		var sb strings.Builder
		for _, w := range words {
			id, ok := ids[w]
			if !ok {
				id = rune(internBase + len(ids))
				ids[w] = id
			}
			sb.WriteRune(id)
		}
		return sb.String()
	}
	return enc(a), enc(b)
}

// subtract returns the words of a not matched by a word of b, counting
// multiplicity and keeping a's order.
func subtract(a, b []string) []string {
	avail := make(map[string]int, len(b))
	for _, w := range b {
		avail[w]++
	}
	var out []string
	for _, w := range a {
		if avail[w] > 0 {
			avail[w]--
			continue
		}
		out = append(out, w)
	}
	return out
}

func removeFirst(words []string, w string) []string {
	for i, x := range words {
		if x == w {
			return append(words[:i], words[i+1:]...)
		}
	}
	return words
}
