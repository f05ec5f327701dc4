// Package model holds the data types shared across the captioning pipeline:
// the ASR-facing Word/Turn pair, and the translator-facing TranslatedTurn.
package model

import "time"

// Word is a single recognized token within a Turn. Once observed it is
// immutable, but a later ASR event for the same Turn may replace it at the
// same position.
type Word struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
	Final      bool
	Speaker    string // optional, empty when the provider does not diarize
}

// Turn is one unit of transcribed speech. Turns with the same Id are
// updated in place by subsequent ASR events; Id order is chronological
// utterance order.
type Turn struct {
	Id                 int64
	Text               string
	Final              bool
	Words              []Word
	Language           string
	LanguageConfidence float64
}

// Clone returns a deep-enough copy for safe cross-goroutine handoff: Words
// is a fresh slice, but Word values are themselves immutable.
func (t Turn) Clone() Turn {
	words := make([]Word, len(t.Words))
	copy(words, t.Words)
	t.Words = words
	return t
}

// HasWords reports whether the turn carries any recognized words. Empty
// turns are ignored by absorption per the translator's boundary rules.
func (t Turn) HasWords() bool {
	return len(t.Words) > 0
}

// TranslatedTurn is one translator output. Id is assigned at emission time,
// monotonic within a translator session, and never reused even across
// pruning or deletion.
type TranslatedTurn struct {
	Id         int64
	OriginalId int64
	Speaker    string
	Text       string
	Start      time.Duration
	End        time.Duration
	Hidden     bool
	Debug      any
}
