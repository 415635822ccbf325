package recite

import (
	"github.com/antzucaro/matchr"
)

// DefaultThreshold is the similarity at or above which an attempt is Correct.
const DefaultThreshold = 0.6

// Verdict is the outcome of scoring one attempt.
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
)

// Attempt is the transient record of one scored recitation. It is never
// persisted.
type Attempt struct {
	VerseID        int      `json:"verse_id"`
	Raw            string   `json:"raw"`
	ReferenceWords []string `json:"reference_words"`
	AttemptWords   []string `json:"attempt_words"`
	Similarity     float64  `json:"similarity"`
	Verdict        Verdict  `json:"verdict"`
}

// Correct reports whether the attempt passed.
func (a Attempt) Correct() bool { return a.Verdict == VerdictCorrect }

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithThreshold sets the pass threshold. Values outside (0, 1] are ignored.
func WithThreshold(t float64) ScorerOption {
	return func(s *Scorer) {
		if t > 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// WithFuzzyWords lets a word count as present when its Jaro-Winkler
// similarity to some word of the other sequence reaches minScore. Zero
// disables fuzzy matching.
func WithFuzzyWords(minScore float64) ScorerOption {
	return func(s *Scorer) { s.fuzzy = minScore }
}

// WithNormalizer replaces the default Normalizer.
func WithNormalizer(n *Normalizer) ScorerOption {
	return func(s *Scorer) { s.norm = n }
}

// Scorer computes similarities and verdicts. Safe for concurrent use.
type Scorer struct {
	norm      *Normalizer
	threshold float64
	fuzzy     float64
}

// NewScorer returns a Scorer with the default threshold and exact matching.
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{norm: defaultNormalizer, threshold: DefaultThreshold}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Threshold returns the pass threshold.
func (s *Scorer) Threshold() float64 { return s.threshold }

// Normalizer returns the normalizer used for scoring.
func (s *Scorer) Normalizer() *Normalizer { return s.norm }

var defaultScorer = NewScorer()

// Similarity scores attempt against reference with the default Scorer.
func Similarity(reference, attempt string) float64 {
	return defaultScorer.Similarity(reference, attempt)
}

// Similarity returns the fraction of words of the shorter normalized word
// sequence that occur anywhere in the longer one. Order and repetition are
// ignored. Either sequence being empty yields 0.
func (s *Scorer) Similarity(reference, attempt string) float64 {
	return s.overlap(s.norm.Words(reference), s.norm.Words(attempt))
}

// Attempt scores transcript against reference and returns the full record.
func (s *Scorer) Attempt(verseID int, reference, transcript string) Attempt {
	ref := s.norm.Words(reference)
	got := s.norm.Words(transcript)
	sim := s.overlap(ref, got)
	v := VerdictIncorrect
	if sim >= s.threshold {
		v = VerdictCorrect
	}
	return Attempt{
		VerseID:        verseID,
		Raw:            transcript,
		ReferenceWords: ref,
		AttemptWords:   got,
		Similarity:     sim,
		Verdict:        v,
	}
}

func (s *Scorer) overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shorter, longer := a, b
	if len(b) < len(a) {
		shorter, longer = b, a
	}

	set := make(map[string]struct{}, len(longer))
	for _, w := range longer {
		set[w] = struct{}{}
	}

	matches := 0
	for _, w := range shorter {
		if _, ok := set[w]; ok {
			matches++
			continue
		}
		if s.fuzzy > 0 && s.fuzzyContains(w, longer) {
			matches++
		}
	}
	return float64(matches) / float64(len(shorter))
}

func (s *Scorer) fuzzyContains(word string, words []string) bool {
	for _, w := range words {
		if matchr.JaroWinkler(word, w, false) >= s.fuzzy {
			return true
		}
	}
	return false
}
