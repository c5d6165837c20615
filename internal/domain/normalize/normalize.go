// Package normalize canonicalizes raw player names read by OCR or stored in
// battle rosters so that both sides compare in the same form.
//
// A normalized name is lowercase (Unicode case folded), free of diacritics,
// made only of letters, digits, '_', '-', '[' and ']', with runs of
// whitespace collapsed to one space. When confusion folding is on, the OCR
// look-alikes 0, 1 and 5 are rewritten to o, l and s.
package normalize

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// confusions maps glyphs OCR commonly reads in place of letters.
var confusions = map[rune]rune{
	'0': 'o',
	'1': 'l',
	'5': 's',
}

// pipeline holds the stateful x/text transformers; they must not be shared
// between goroutines, so Normalizer pools them.
type pipeline struct {
	decompose transform.Transformer
	fold      cases.Caser
	recompose transform.Transformer
}

func newPipeline() *pipeline {
	return &pipeline{
		decompose: transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn))),
		fold:      cases.Fold(),
		recompose: transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
	}
}

// Normalizer turns raw names into comparable form. Safe for concurrent use.
type Normalizer struct {
	foldConfusions bool
	pool           sync.Pool
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithConfusionFolding toggles the 0/1/5 -> o/l/s rewrite.
func WithConfusionFolding(enabled bool) Option {
	return func(n *Normalizer) {
		n.foldConfusions = enabled
	}
}

// New returns a Normalizer. Confusion folding is on by default.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{foldConfusions: true}
	for _, opt := range opts {
		opt(n)
	}
	n.pool.New = func() any { return newPipeline() }
	return n
}

// FoldsConfusions reports whether the 0/1/5 rewrite is applied.
func (n *Normalizer) FoldsConfusions() bool { return n.foldConfusions }

// Normalize returns the canonical form of raw, including confusion folding
// when enabled. It never fails and normalize(normalize(x)) == normalize(x).
func (n *Normalizer) Normalize(raw string) string {
	return n.normalize(raw, n.foldConfusions)
}

// Canonical returns the canonical form without confusion folding. Exact
// equality on this form is how a scorer recognizes an already-known name.
func (n *Normalizer) Canonical(raw string) string {
	return n.normalize(raw, false)
}

func (n *Normalizer) normalize(raw string, foldConfusions bool) string {
	if raw == "" {
		return ""
	}

	p := n.pool.Get().(*pipeline)
	defer n.pool.Put(p)

	s := p.pass(raw, foldConfusions)
	// Dropping a rune can leave composable neighbours adjacent; repeat
	// until the form is stable.
	for i := 0; i < maxPasses; i++ {
		next := p.pass(s, foldConfusions)
		if next == s {
			break
		}
		s = next
	}
	return s
}

const maxPasses = 4

func (p *pipeline) pass(raw string, foldConfusions bool) string {
	s, _, err := transform.String(p.decompose, raw)
	if err != nil {
		s = raw
	}
	s = p.fold.String(s)
	// Folding can reintroduce compatibility forms or marks (e.g. U+0130).
	s = p.compose(s)
	return p.compose(filter(s, foldConfusions))
}

func (p *pipeline) compose(s string) string {
	if r, _, err := transform.String(p.recompose, s); err == nil {
		return r
	}
	return s
}

// filter keeps permitted runes, collapses whitespace and folds confusions.
func filter(s string, foldConfusions bool) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		case !permitted(r):
			continue
		}
		if foldConfusions {
			if m, ok := confusions[r]; ok {
				r = m
			}
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func permitted(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '_', '-', '[', ']':
		return true
	}
	return false
}

// Tokenize splits a normalized name into sub-tokens on whitespace and the
// permitted punctuation, so clan tags and decorations become separate tokens.
func Tokenize(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		switch r {
		case ' ', '_', '-', '[', ']':
			return true
		}
		return unicode.IsSpace(r)
	})
}

var defaultNormalizer = New()

// Normalize canonicalizes raw with the default Normalizer.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}
