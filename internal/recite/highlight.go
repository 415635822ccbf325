package recite

import "strings"

// WordMark is one reference word as displayed, with whether the live
// transcript has covered it.
type WordMark struct {
	Word       string `json:"word"`
	Recognized bool   `json:"recognized"`
}

// Highlight marks each whitespace-separated word of reference as recognized
// when its normalized form occurs among the normalized words of interim.
func (n *Normalizer) Highlight(reference, interim string) []WordMark {
	heard := make(map[string]struct{})
	for _, w := range n.Words(interim) {
		heard[w] = struct{}{}
	}
	fields := strings.Fields(reference)
	marks := make([]WordMark, 0, len(fields))
	for _, f := range fields {
		_, ok := heard[n.Normalize(f)]
		marks = append(marks, WordMark{Word: f, Recognized: ok})
	}
	return marks
}

// Highlight uses the default Normalizer.
func Highlight(reference, interim string) []WordMark {
	return defaultNormalizer.Highlight(reference, interim)
}
