// Package textnorm provides the deterministic text normalization shared by the
// tiling, GATE, conflict and coverage checks.
//
// Stored text is never normalized. Normalization only happens inside the
// checking algorithms, so every checker must go through this package to agree
// on what "the same text" means.
//
// Pipeline order for Normalize
// 1 drop invalid UTF-8
// 2 Unicode NFKC
// 3 case folding
// 4 punctuation from the fixed set (and any Unicode P* rune) becomes a space
// 5 whitespace runs collapse to a single space, edges trimmed
package textnorm

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Punctuation is the fixed set stripped before comparison. Unicode punctuation
// outside this set is stripped as well.
const Punctuation = `.,;:!?¡¿"'“”‘’«»()[]{}…-–—/。、！？「」『』・`

// casers are not safe for concurrent use, so each call takes one from the pool.
var foldPool = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFKC, cases.Fold())
	},
}

var nfkcPool = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFKC)
	},
}

// Normalize returns the case-folded, punctuation-free, whitespace-collapsed
// form of s.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	return collapse(stripPunct(run(&foldPool, s)))
}

// Surface is Normalize without case folding. Two texts that differ only by
// capitalization have different Surface forms but the same Normalize form.
func Surface(s string) string {
	if s == "" {
		return ""
	}
	return collapse(stripPunct(run(&nfkcPool, s)))
}

// Fold case-folds s after NFKC without touching punctuation or spacing.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	return run(&foldPool, s)
}

// Compact returns Normalize(s) with every space removed. It is the comparison
// form for scripts written without word spacing.
func Compact(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}

// Words splits the normalized form of s into tokens.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}

// IsPunct reports whether r is stripped by normalization.
func IsPunct(r rune) bool {
	return strings.ContainsRune(Punctuation, r) || unicode.IsPunct(r)
}

func run(p *sync.Pool, s string) string {
	s = strings.ToValidUTF8(s, "")
	tr := p.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	p.Put(tr)
	if err != nil {
		return s
	}
	return out
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if IsPunct(r) {
			return ' '
		}
		return r
	}, s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
