package basket

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/japaniel/coursegen/pkg/lattice"
)

// Pattern is one row of the phrase template table. Template applies to both
// sides of the phrase: {L} is the owning LEGO, {1}..{4} are distinct earlier
// LEGOs and {F} is a closed-class filler.
type Pattern struct {
	Tag      string `yaml:"tag" validate:"required"`
	When     string `yaml:"when"`
	Template string `yaml:"template" validate:"required"`
}

// Predicate decides whether a pattern applies to a LEGO.
type Predicate func(l lattice.Lego, words int) bool

// Predicates are the names a Pattern.When may use. An empty When means "any".
var Predicates = map[string]Predicate{
	"any":         func(lattice.Lego, int) bool { return true },
	"atomic":      func(l lattice.Lego, _ int) bool { return l.Kind == lattice.Atomic },
	"composite":   func(l lattice.Lego, _ int) bool { return l.Kind == lattice.Composite },
	"single_word": func(_ lattice.Lego, n int) bool { return n == 1 },
	"multi_word":  func(_ lattice.Lego, n int) bool { return n > 1 },
	"new":         func(l lattice.Lego, _ int) bool { return l.Origin == lattice.New },
	"reference":   func(l lattice.Lego, _ int) bool { return l.Origin == lattice.Reference },
}

var slotRe = regexp.MustCompile(`\{([LF1-4])\}`)

type template struct {
	Pattern
	when   Predicate
	slots  int // numbered slots
	filler bool
}

func compile(p Pattern) (template, error) {
	t := template{Pattern: p}
	name := p.When
	if name == "" {
		name = "any"
	}
	var ok bool
	if t.when, ok = Predicates[name]; !ok {
		return t, fmt.Errorf("pattern %q: unknown predicate %q (known: %s)", p.Tag, p.When, strings.Join(PredicateNames(), ", "))
	}
	own := 0
	for _, m := range slotRe.FindAllStringSubmatch(p.Template, -1) {
		switch m[1] {
		case "L":
			own++
		case "F":
			t.filler = true
		default:
			n, _ := strconv.Atoi(m[1])
			if n > t.slots {
				t.slots = n
			}
		}
	}
	if own != 1 {
		return t, fmt.Errorf("pattern %q: template must contain {L} exactly once", p.Tag)
	}
	for i := 1; i <= t.slots; i++ {
		if !strings.Contains(p.Template, "{"+strconv.Itoa(i)+"}") {
			return t, fmt.Errorf("pattern %q: slot {%d} skipped", p.Tag, i)
		}
	}
	return t, nil
}

// legoCount is the number of LEGOs a rendered phrase draws on.
func (t template) legoCount() int { return t.slots + 1 }

// render fills the template for one side. others holds the numbered slots.
func (t template) render(own string, others []string, filler string) string {
	out := slotRe.ReplaceAllStringFunc(t.Template, func(m string) string {
		switch k := m[1 : len(m)-1]; k {
		case "L":
			return own
		case "F":
			return filler
		default:
			n, _ := strconv.Atoi(k)
			return others[n-1]
		}
	})
	return strings.Join(strings.Fields(out), " ")
}

// permutations calls fn with each ordered selection of k distinct indices
// below n, in lexicographic order, until fn returns false.
func permutations(n, k int, fn func([]int) bool) {
	if k == 0 {
		fn(nil)
		return
	}
	idx := make([]int, 0, k)
	used := make([]bool, n)
	var rec func() bool
	rec = func() bool {
		if len(idx) == k {
			return fn(idx)
		}
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			used[i] = true
			idx = append(idx, i)
			if !rec() {
				return false
			}
			idx = idx[:len(idx)-1]
			used[i] = false
		}
		return true
	}
	rec()
}

// PredicateNames lists the registered predicate names.
func PredicateNames() []string {
	out := make([]string, 0, len(Predicates))
	for k := range Predicates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
