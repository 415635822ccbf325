// Package recite decides whether a spoken recitation of a verse counts as
// correct.
//
// Text from the reference verse and from the speech recognizer goes through
// the same Normalizer, which folds orthographic variants a child cannot be
// expected to pronounce differently (Alif forms, Alif-Maksura) and strips
// short-vowel marks and tatweel. The normalized words are compared as a bag:
// the share of the shorter word list that appears anywhere in the longer one
// is the similarity, and a similarity at or above the threshold is Correct.
//
// A Machine models one recitation widget: it is driven by explicit events
// (Start, Interim, Final, End, Fail, SetVerse) coming from a speech
// recognizer and reports each verdict through a callback. A Recognizer binds
// a Machine to an stt.Provider.
package recite

import (
	"fmt"
	"strings"
	"unicode"
)

// RuneRange is an inclusive range of runes removed during normalization.
type RuneRange struct {
	Lo, Hi rune
}

// DefaultSubstitutions folds Alif variants to a bare Alif, Alif-Maksura to
// Ya, and drops the harakat.
func DefaultSubstitutions() map[rune]string {
	return map[rune]string{
		'أ': "ا",
		'إ': "ا",
		'آ': "ا",
		'ٱ': "ا",
		'ى': "ي",
		'َ': "",
		'ُ': "",
		'ِ': "",
		'ً': "",
		'ٌ': "",
		'ٍ': "",
		'ْ': "",
		'ّ': "",
	}
}

// DefaultStripRanges covers the Arabic combining marks, superscript Alif,
// tatweel and the Quranic annotation signs.
func DefaultStripRanges() []RuneRange {
	return []RuneRange{
		{0x064B, 0x065F},
		{0x0670, 0x0670},
		{0x0640, 0x0640},
		{0x06D6, 0x06ED},
	}
}

// Normalizer maps raw text to its comparable form. It is read-only after
// construction and safe for concurrent use.
type Normalizer struct {
	subs  map[rune]string
	strip []RuneRange
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithSubstitutions merges extra single-rune substitutions over the defaults.
// An empty replacement deletes the rune.
func WithSubstitutions(subs map[rune]string) NormalizerOption {
	return func(n *Normalizer) {
		for k, v := range subs {
			n.subs[k] = v
		}
	}
}

// WithStripRanges replaces the default strip ranges.
func WithStripRanges(ranges ...RuneRange) NormalizerOption {
	return func(n *Normalizer) {
		n.strip = append([]RuneRange(nil), ranges...)
	}
}

// NewNormalizer builds a Normalizer from the default table plus opts.
// A replacement that itself contains a substituted rune is rejected, since
// normalizing twice would then differ from normalizing once.
func NewNormalizer(opts ...NormalizerOption) (*Normalizer, error) {
	n := &Normalizer{
		subs:  DefaultSubstitutions(),
		strip: DefaultStripRanges(),
	}
	for _, o := range opts {
		o(n)
	}
	for from, to := range n.subs {
		for _, r := range to {
			if _, ok := n.subs[r]; ok {
				return nil, fmt.Errorf("recite: substitution %q -> %q produces substituted rune %q", from, to, r)
			}
		}
	}
	return n, nil
}

var defaultNormalizer = func() *Normalizer {
	n, err := NewNormalizer()
	if err != nil {
		panic(err)
	}
	return n
}()

// Normalize normalizes text with the default table.
func Normalize(text string) string {
	return defaultNormalizer.Normalize(text)
}

// Words splits text into normalized words with the default table.
func Words(text string) []string {
	return defaultNormalizer.Words(text)
}

// Normalize applies substitutions, strips the configured ranges, then trims
// surrounding whitespace. Inner whitespace is left untouched.
func (n *Normalizer) Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if rep, ok := n.subs[r]; ok {
			for _, rr := range rep {
				if !n.stripped(rr) {
					b.WriteRune(rr)
				}
			}
			continue
		}
		if n.stripped(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Words normalizes text and splits it on whitespace runs.
func (n *Normalizer) Words(text string) []string {
	return strings.FieldsFunc(n.Normalize(text), unicode.IsSpace)
}

func (n *Normalizer) stripped(r rune) bool {
	for _, rg := range n.strip {
		if r >= rg.Lo && r <= rg.Hi {
			return true
		}
	}
	return false
}
