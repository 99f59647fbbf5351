package lattice

import (
	"sort"
	"strings"
)

// Matcher finds committed LEGOs inside a phrase by greedy longest match over
// tokens, so a short LEGO never matches inside a longer one. New LEGOs whose
// targets tokenize identically, such as capitalization variants, share one
// endpoint: the earliest of them.
type Matcher struct {
	snap *Snapshot
	// canon lists the endpoint indices in registry order.
	canon []int
	// byFirst indexes endpoints by first token, longest first.
	byFirst map[string][]matchEntry
}

type matchEntry struct {
	idx    int
	tokens []string
}

// NewMatcher indexes the new LEGOs of s.
func NewMatcher(s *Snapshot) *Matcher {
	m := &Matcher{snap: s, byFirst: map[string][]matchEntry{}}
	seen := map[string]bool{}
	for i := 0; i < s.Len(); i++ {
		l := s.legoAt(i)
		if l.Origin != New {
			continue
		}
		ts := s.tok.Tokens(l.Target)
		if len(ts) == 0 {
			continue
		}
		key := strings.Join(ts, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		m.canon = append(m.canon, i)
		m.byFirst[ts[0]] = append(m.byFirst[ts[0]], matchEntry{idx: i, tokens: ts})
	}
	for _, es := range m.byFirst {
		sort.SliceStable(es, func(i, j int) bool { return len(es[i].tokens) > len(es[j].tokens) })
	}
	return m
}

// Endpoints returns the indices a match can resolve to, in registry order.
func (m *Matcher) Endpoints() []int { return m.canon }

// Match returns the sorted, distinct registry indices of the LEGOs found in
// target.
func (m *Matcher) Match(target string) []int {
	ts := m.snap.tok.Tokens(target)
	seen := map[int]bool{}
	var out []int
	for p := 0; p < len(ts); {
		matched := 1
		for _, e := range m.byFirst[ts[p]] {
			if hasPrefix(ts[p:], e.tokens) {
				if !seen[e.idx] {
					seen[e.idx] = true
					out = append(out, e.idx)
				}
				matched = len(e.tokens)
				break
			}
		}
		p += matched
	}
	sort.Ints(out)
	return out
}

func hasPrefix(ts, prefix []string) bool {
	if len(prefix) > len(ts) {
		return false
	}
	for i, t := range prefix {
		if ts[i] != t {
			return false
		}
	}
	return true
}
