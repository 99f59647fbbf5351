// Package tiling proves that an ordered list of LEGO target texts
// reconstructs its seed sentence exactly.
package tiling

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/japaniel/coursegen/pkg/textnorm"
)

// ErrTiling matches every *Failure via errors.Is.
var ErrTiling = errors.New("tiling failure")

// Mode names the reconstruction strategy that produced a failure.
type Mode string

const (
	// Concat compares the normalized concatenation of the LEGOs with the seed.
	Concat Mode = "concat"
	// Greedy consumes the longest matching LEGO at the front of the remainder.
	Greedy Mode = "greedy"
)

// Failure describes the first point where a decomposition diverges from its seed.
type Failure struct {
	SeedID string `json:"seed_id"`
	Mode   Mode   `json:"mode"`
	// Offset is the rune offset into the normalized seed text.
	Offset   int      `json:"offset"`
	Expected string   `json:"expected"`
	Got      string   `json:"got,omitempty"`
	Missing  []string `json:"missing,omitempty"`
	Extra    []string `json:"extra,omitempty"`
}

func (f *Failure) Error() string {
	if f.Mode == Greedy {
		return fmt.Sprintf("tiling %s: no lego matches at offset %d: %q", f.SeedID, f.Offset, f.Expected)
	}
	return fmt.Sprintf("tiling %s: diverges at offset %d: want %q, got %q (missing %v, extra %v)",
		f.SeedID, f.Offset, f.Expected, f.Got, f.Missing, f.Extra)
}

// Is reports ErrTiling.
func (f *Failure) Is(target error) bool { return target == ErrTiling }

// Validator checks decompositions. IgnoreSpaces compares with all spaces
// removed, for scripts written without word spacing.
type Validator struct {
	IgnoreSpaces bool
}

func (v Validator) form(s string) string {
	if v.IgnoreSpaces {
		return textnorm.Compact(s)
	}
	return textnorm.Normalize(s)
}

// Validate requires the normalized concatenation of parts to equal the
// normalized target. It returns nil or a *Failure.
func (v Validator) Validate(seedID, target string, parts []string) error {
	want := v.form(target)
	got := v.form(strings.Join(parts, " "))
	if want == got {
		return nil
	}
	off, wRest, gRest := diverge(want, got)
	missing, extra := tokenDiff(textnorm.Words(target), textnorm.Words(strings.Join(parts, " ")))
	return &Failure{
		SeedID:   seedID,
		Mode:     Concat,
		Offset:   off,
		Expected: wRest,
		Got:      gRest,
		Missing:  missing,
		Extra:    extra,
	}
}

// Reconstruct tiles target from candidates by repeatedly consuming the longest
// candidate that matches the front of the untiled remainder. Candidates may be
// used any number of times. It returns the candidate indices in tiling order,
// or a *Failure quoting the unmatched remainder.
func (v Validator) Reconstruct(seedID, target string, candidates []string) ([]int, error) {
	type cand struct {
		idx  int
		text string
	}
	var cs []cand
	for i, c := range candidates {
		if f := v.form(c); f != "" {
			cs = append(cs, cand{idx: i, text: f})
		}
	}
	sort.SliceStable(cs, func(a, b int) bool { return len(cs[a].text) > len(cs[b].text) })

	full := v.form(target)
	rest := full
	var out []int
	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			return out, nil
		}
		matched := false
		for _, c := range cs {
			if !strings.HasPrefix(rest, c.text) {
				continue
			}
			after := rest[len(c.text):]
			if !v.IgnoreSpaces && after != "" && after[0] != ' ' {
				continue
			}
			out = append(out, c.idx)
			rest = after
			matched = true
			break
		}
		if !matched {
			return out, &Failure{
				SeedID:   seedID,
				Mode:     Greedy,
				Offset:   utf8.RuneCountInString(full) - utf8.RuneCountInString(rest),
				Expected: rest,
			}
		}
	}
}

// diverge returns the rune offset of the first difference and both remainders.
func diverge(a, b string) (int, string, string) {
	off, i := 0, 0
	for i < len(a) && i < len(b) {
		ra, sa := utf8.DecodeRuneInString(a[i:])
		rb, sb := utf8.DecodeRuneInString(b[i:])
		if ra != rb || sa != sb {
			break
		}
		i += sa
		off++
	}
	return off, a[i:], b[i:]
}

// tokenDiff returns tokens of want absent from got and tokens of got absent
// from want, as multisets, in first-appearance order.
func tokenDiff(want, got []string) (missing, extra []string) {
	count := map[string]int{}
	for _, t := range got {
		count[t]++
	}
	for _, t := range want {
		if count[t] > 0 {
			count[t]--
			continue
		}
		missing = append(missing, t)
	}
	count = map[string]int{}
	for _, t := range want {
		count[t]++
	}
	for _, t := range got {
		if count[t] > 0 {
			count[t]--
			continue
		}
		extra = append(extra, t)
	}
	return missing, extra
}
