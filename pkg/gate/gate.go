// Package gate enforces that practice material only uses vocabulary the
// learner has already met at a given registry position.
package gate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/japaniel/coursegen/pkg/lattice"
)

// ErrGateViolation matches every *Violation via errors.Is.
var ErrGateViolation = errors.New("gate violation")

// Rules are the language-pair specific allowances.
type Rules struct {
	// Exempt lists closed-class words (articles, clitics) that are never gated.
	Exempt []string `yaml:"exempt"`
	// Inflections lists regular suffixes; a token passes when it shares a stem
	// with an available token under any pair of these suffixes.
	Inflections []string `yaml:"inflections"`
	// MinStem is the shortest stem an inflection match may leave.
	MinStem int `yaml:"min_stem" validate:"min=1"`
}

// Result is the outcome of one check.
type Result struct {
	Pass      bool     `json:"pass"`
	Offending []string `json:"offending,omitempty"`
}

// Violation reports a phrase that uses unavailable vocabulary.
type Violation struct {
	LegoID    string
	Phrase    string
	Offending []string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("gate %s: %q uses unavailable %s", v.LegoID, v.Phrase, strings.Join(v.Offending, ", "))
}

// Is reports ErrGateViolation.
func (v *Violation) Is(target error) bool { return target == ErrGateViolation }

// Checker answers GATE queries against one snapshot. The stem index is built
// once per snapshot, so each check costs time proportional to the phrase's
// token count. Safe for concurrent use.
type Checker struct {
	snap    *lattice.Snapshot
	exempt  map[string]bool
	suffix  []string
	minStem int
	// stemFirst maps a stem to the earliest index at which some available
	// token reduces to it.
	stemFirst map[string]int
}

// NewChecker precomputes the inflection index for snap.
func NewChecker(snap *lattice.Snapshot, rules Rules) *Checker {
	c := &Checker{
		snap:      snap,
		exempt:    map[string]bool{},
		minStem:   rules.MinStem,
		stemFirst: map[string]int{},
	}
	if c.minStem < 1 {
		c.minStem = 1
	}
	tok := snap.Tokenizer()
	for _, w := range rules.Exempt {
		for _, t := range tok.Tokens(w) {
			c.exempt[t] = true
		}
	}
	for _, s := range rules.Inflections {
		if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
			c.suffix = append(c.suffix, s)
		}
	}
	snap.EachToken(func(token string, first int) {
		for _, stem := range c.stems(token) {
			if cur, ok := c.stemFirst[stem]; !ok || first < cur {
				c.stemFirst[stem] = first
			}
		}
	})
	return c
}

// Snapshot returns the snapshot the checker answers for.
func (c *Checker) Snapshot() *lattice.Snapshot { return c.snap }

// stems returns token itself plus every stem left by stripping a listed suffix.
func (c *Checker) stems(token string) []string {
	out := []string{token}
	for _, s := range c.suffix {
		if strings.HasSuffix(token, s) && len([]rune(token))-len([]rune(s)) >= c.minStem {
			out = append(out, strings.TrimSuffix(token, s))
		}
	}
	return out
}

// Allowed reports whether a single normalized token is available at index at.
func (c *Checker) Allowed(token string, at int) bool {
	if c.exempt[token] || c.snap.Available(token, at) {
		return true
	}
	for _, stem := range c.stems(token) {
		if first, ok := c.stemFirst[stem]; ok && first <= at {
			return true
		}
	}
	return false
}

// Check tests a phrase's target text at registry index at, inclusive of the
// LEGO at that index.
func (c *Checker) Check(target string, at int) Result {
	var bad []string
	seen := map[string]bool{}
	for _, t := range c.snap.Tokenizer().Tokens(target) {
		if c.Allowed(t, at) || seen[t] {
			continue
		}
		seen[t] = true
		bad = append(bad, t)
	}
	return Result{Pass: len(bad) == 0, Offending: bad}
}

// Verify is Check returning a *Violation on failure.
func (c *Checker) Verify(legoID, target string, at int) error {
	r := c.Check(target, at)
	if r.Pass {
		return nil
	}
	return &Violation{LegoID: legoID, Phrase: target, Offending: r.Offending}
}
