package stt

import "time"

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final or partial transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available (Deepgram).
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a vocabulary hint with a provider-specific intensity.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// KeywordsFromWords turns a word list into hints of equal weight, skipping
// duplicates.
func KeywordsFromWords(words []string, boost float64) []KeywordBoost {
	seen := make(map[string]bool, len(words))
	out := make([]KeywordBoost, 0, len(words))
	for _, w := range words {
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, KeywordBoost{Keyword: w, Boost: boost})
	}
	return out
}
