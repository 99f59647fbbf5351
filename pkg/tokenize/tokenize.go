// Package tokenize splits target-language text into the normalized word tokens
// that make up the learner's vocabulary.
package tokenize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"

	"github.com/japaniel/coursegen/pkg/textnorm"
)

// Tokenizer turns a target text into normalized tokens. Implementations must be
// safe for concurrent use and deterministic.
type Tokenizer interface {
	Tokens(text string) []string
	// Name identifies the tokenizer in configuration.
	Name() string
}

// Words splits on whitespace after normalization. It suits every language that
// writes spaces between words.
type Words struct{}

// Tokens implements Tokenizer.
func (Words) Tokens(text string) []string { return textnorm.Words(text) }

// Name implements Tokenizer.
func (Words) Name() string { return "words" }

// Kagome segments Japanese text morphologically using the IPA dictionary.
type Kagome struct {
	t *tokenizer.Tokenizer
}

// NewKagome creates a Japanese tokenizer instance.
func NewKagome() (*Kagome, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, err
	}
	return &Kagome{t: t}, nil
}

// Name implements Tokenizer.
func (*Kagome) Name() string { return "kagome" }

// Tokens implements Tokenizer. Symbols (記号) and whitespace are dropped;
// surfaces are returned in normalized form so they compare equal to tokens
// produced for the same text elsewhere.
func (k *Kagome) Tokens(text string) []string {
	text = textnorm.Normalize(string(StripRuby([]byte(text))))
	if text == "" {
		return nil
	}
	var out []string
	for _, tok := range k.t.Tokenize(text) {
		if tok.Class == tokenizer.DUMMY {
			continue
		}
		if strings.TrimSpace(tok.Surface) == "" {
			continue
		}
		// Kagome IPA features: 0 is the primary part of speech.
		if f := tok.Features(); len(f) > 0 && f[0] == "記号" {
			continue
		}
		out = append(out, tok.Surface)
	}
	return out
}

// New returns the tokenizer registered under name.
func New(name string) (Tokenizer, error) {
	switch name {
	case "", "words":
		return Words{}, nil
	case "kagome":
		return NewKagome()
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}

var (
	// (?s) allows dot to match newlines
	// (?i) makes it case-insensitive
	reRT  = regexp.MustCompile(`(?si)<rt\b[^>]*>.*?</rt>`)
	reRP  = regexp.MustCompile(`(?si)<rp\b[^>]*>.*?</rp>`)
	reTag = regexp.MustCompile(`(?s)</?ruby\b[^>]*>`)
)

// StripRuby removes furigana annotations (<rt>, <rp>) and the enclosing
// <ruby> tags from target text, so "<ruby>漢字<rt>かんじ</rt></ruby>" reads as
// "漢字" instead of "漢字かんじ".
func StripRuby(content []byte) []byte {
	cleaned := reRT.ReplaceAll(content, nil)
	cleaned = reRP.ReplaceAll(cleaned, nil)
	return reTag.ReplaceAll(cleaned, nil)
}
