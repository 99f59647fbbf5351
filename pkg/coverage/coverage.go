// Package coverage measures how densely generated baskets exercise the space
// of legal LEGO combinations.
package coverage

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/japaniel/coursegen/pkg/basket"
	"github.com/japaniel/coursegen/pkg/lattice"
	"github.com/japaniel/coursegen/pkg/textnorm"
)

// Options bound the report.
type Options struct {
	// Limit caps the missing and outlier lists.
	Limit int `yaml:"limit" validate:"min=1"`
	// Sigma is the number of standard deviations above the mean an edge
	// frequency must exceed to be an outlier.
	Sigma float64 `yaml:"sigma" validate:"gt=0"`
	// Examples caps the example phrases kept per outlier edge.
	Examples int `yaml:"examples" validate:"min=0"`
}

// DefaultOptions reports up to 50 edges at three sigma.
func DefaultOptions() Options {
	return Options{Limit: 50, Sigma: 3, Examples: 3}
}

// Edge is an unordered pair of new LEGOs, A introduced before B.
type Edge struct {
	A        string   `json:"a"`
	B        string   `json:"b"`
	Count    int      `json:"count,omitempty"`
	Examples []string `json:"examples,omitempty"`
}

// Report is the coverage summary.
type Report struct {
	Legos         int     `json:"legos"`
	Phrases       int     `json:"phrases"`
	LegalEdges    int     `json:"legal_edges"`
	ObservedEdges int     `json:"observed_edges"`
	Density       float64 `json:"density_pct"`
	Mean          float64 `json:"mean_frequency"`
	StdDev        float64 `json:"stddev_frequency"`
	Threshold     float64 `json:"outlier_threshold"`
	MissingTotal  int     `json:"missing_total"`
	Missing       []Edge  `json:"missing"`
	Outliers      []Edge  `json:"outliers"`
}

// Analyzer matches phrases against the canonical LEGOs of one snapshot.
type Analyzer struct {
	Logger zerolog.Logger

	snap  *lattice.Snapshot
	opts  Options
	match *lattice.Matcher
	// canon lists the edge endpoints in registry order.
	canon []int
}

// NewAnalyzer indexes the new LEGOs of snap.
func NewAnalyzer(snap *lattice.Snapshot, opts Options) *Analyzer {
	if opts.Limit < 1 {
		opts.Limit = DefaultOptions().Limit
	}
	if opts.Sigma <= 0 {
		opts.Sigma = DefaultOptions().Sigma
	}
	m := lattice.NewMatcher(snap)
	return &Analyzer{Logger: zerolog.Nop(), snap: snap, opts: opts, match: m, canon: m.Endpoints()}
}

// Extract returns the registry indices of the LEGOs found in target, using
// greedy longest match so a short LEGO never matches inside a longer one.
// Capitalization variants resolve to the earliest of them.
func (a *Analyzer) Extract(target string) []int { return a.match.Match(target) }

// Analyze builds the coverage report for baskets.
func (a *Analyzer) Analyze(baskets []*basket.Basket) *Report {
	type stat struct {
		count    int
		examples []string
		seen     map[string]bool
	}
	edges := map[[2]int]*stat{}
	rep := &Report{Legos: len(a.canon)}

	for _, b := range baskets {
		for _, ph := range b.Phrases {
			rep.Phrases++
			found := a.Extract(ph.Target)
			for x := 0; x < len(found); x++ {
				for y := x + 1; y < len(found); y++ {
					k := [2]int{found[x], found[y]}
					s := edges[k]
					if s == nil {
						s = &stat{seen: map[string]bool{}}
						edges[k] = s
					}
					s.count++
					key := textnorm.Surface(ph.Target)
					if len(s.examples) < a.opts.Examples && !s.seen[key] {
						s.seen[key] = true
						s.examples = append(s.examples, ph.Target)
					}
				}
			}
		}
	}

	n := len(a.canon)
	rep.LegalEdges = n * (n - 1) / 2
	rep.ObservedEdges = len(edges)
	rep.MissingTotal = rep.LegalEdges - rep.ObservedEdges
	if rep.LegalEdges > 0 {
		rep.Density = 100 * float64(rep.ObservedEdges) / float64(rep.LegalEdges)
	}

	for x := 0; x < n && len(rep.Missing) < a.opts.Limit; x++ {
		for y := x + 1; y < n && len(rep.Missing) < a.opts.Limit; y++ {
			if _, ok := edges[[2]int{a.canon[x], a.canon[y]}]; !ok {
				rep.Missing = append(rep.Missing, a.edge(a.canon[x], a.canon[y]))
			}
		}
	}

	if len(edges) > 0 {
		var sum float64
		for _, s := range edges {
			sum += float64(s.count)
		}
		rep.Mean = sum / float64(len(edges))
		var sq float64
		for _, s := range edges {
			d := float64(s.count) - rep.Mean
			sq += d * d
		}
		rep.StdDev = math.Sqrt(sq / float64(len(edges)))
		rep.Threshold = rep.Mean + a.opts.Sigma*rep.StdDev

		for k, s := range edges {
			if float64(s.count) > rep.Threshold {
				e := a.edge(k[0], k[1])
				e.Count = s.count
				e.Examples = s.examples
				rep.Outliers = append(rep.Outliers, e)
			}
		}
		sort.Slice(rep.Outliers, func(i, j int) bool {
			oi, oj := rep.Outliers[i], rep.Outliers[j]
			if oi.Count != oj.Count {
				return oi.Count > oj.Count
			}
			if oi.A != oj.A {
				return oi.A < oj.A
			}
			return oi.B < oj.B
		})
		if len(rep.Outliers) > a.opts.Limit {
			rep.Outliers = rep.Outliers[:a.opts.Limit]
		}
	}

	a.Logger.Info().
		Int("legal", rep.LegalEdges).
		Int("observed", rep.ObservedEdges).
		Float64("density_pct", rep.Density).
		Int("outliers", len(rep.Outliers)).
		Msg("coverage analyzed")
	return rep
}

func (a *Analyzer) edge(i, j int) Edge {
	return Edge{A: a.snap.Lego(i).ID, B: a.snap.Lego(j).ID}
}
