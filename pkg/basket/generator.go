package basket

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/japaniel/coursegen/pkg/gate"
	"github.com/japaniel/coursegen/pkg/lattice"
	"github.com/japaniel/coursegen/pkg/textnorm"
	"github.com/japaniel/coursegen/pkg/tokenize"
)

// Bucket is one length bucket. Max 0 means unbounded.
type Bucket struct {
	Name  string `yaml:"name" validate:"required"`
	Min   int    `yaml:"min" validate:"min=1"`
	Max   int    `yaml:"max" validate:"min=0"`
	Quota int    `yaml:"quota" validate:"min=0"`
}

// Filler is a closed-class word pair used to pad short buckets.
type Filler struct {
	Known  string `yaml:"known"`
	Target string `yaml:"target"`
}

// Config is the basket layout and search budget.
type Config struct {
	Size     int       `yaml:"size" validate:"min=1"`
	Buckets  []Bucket  `yaml:"buckets" validate:"min=1,dive"`
	Fillers  []Filler  `yaml:"fillers"`
	Patterns []Pattern `yaml:"patterns" validate:"dive"`
	// MaxCandidates caps the combinations tried per pattern.
	MaxCandidates int  `yaml:"max_candidates" validate:"min=1"`
	SeedWindows   bool `yaml:"seed_windows"`
}

// DefaultConfig is the 2/2/2/4 layout of ten phrases.
func DefaultConfig() Config {
	return Config{
		Size: 10,
		Buckets: []Bucket{
			{Name: "1-2", Min: 1, Max: 2, Quota: 2},
			{Name: "3", Min: 3, Max: 3, Quota: 2},
			{Name: "4-5", Min: 4, Max: 5, Quota: 2},
			{Name: "6+", Min: 6, Quota: 4},
		},
		Patterns: []Pattern{
			{Tag: "bare", Template: "{L}"},
			{Tag: "lead", Template: "{1} {L}"},
			{Tag: "trail", Template: "{L} {1}"},
			{Tag: "frame", Template: "{1} {L} {2}"},
			{Tag: "lead2", Template: "{1} {2} {L}"},
			{Tag: "frame4", Template: "{1} {2} {L} {3}"},
			{Tag: "frame5", Template: "{1} {2} {L} {3} {4}"},
		},
		MaxCandidates: 200,
		SeedWindows:   true,
	}
}

// Check verifies the bucket layout: quotas sum to Size and bucket ranges
// ascend without overlap.
func (c Config) Check() error {
	if len(c.Buckets) == 0 {
		return errors.New("basket: no buckets")
	}
	sum, prevMax := 0, 0
	for i, b := range c.Buckets {
		sum += b.Quota
		if b.Min <= prevMax {
			return fmt.Errorf("basket: bucket %q overlaps the previous bucket", b.Name)
		}
		if b.Max == 0 && i != len(c.Buckets)-1 {
			return fmt.Errorf("basket: only the last bucket may be unbounded, not %q", b.Name)
		}
		if b.Max != 0 && b.Max < b.Min {
			return fmt.Errorf("basket: bucket %q has max below min", b.Name)
		}
		prevMax = b.Max
	}
	if sum != c.Size {
		return fmt.Errorf("basket: bucket quotas sum to %d, size is %d", sum, c.Size)
	}
	if c.Buckets[len(c.Buckets)-1].Quota < 1 {
		return errors.New("basket: final bucket needs a slot for the seed sentence")
	}
	return nil
}

// Generator builds baskets against one snapshot. Safe for concurrent use.
type Generator struct {
	Logger zerolog.Logger

	cfg      Config
	gate     *gate.Checker
	snap     *lattice.Snapshot
	tok      tokenize.Tokenizer
	match    *lattice.Matcher
	patterns []template
}

// NewGenerator compiles the pattern table for the checker's snapshot.
func NewGenerator(checker *gate.Checker, cfg Config) (*Generator, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if cfg.MaxCandidates < 1 {
		cfg.MaxCandidates = 1
	}
	g := &Generator{
		Logger: zerolog.Nop(),
		cfg:    cfg,
		gate:   checker,
		snap:   checker.Snapshot(),
		tok:    checker.Snapshot().Tokenizer(),
		match:  lattice.NewMatcher(checker.Snapshot()),
	}
	for _, p := range cfg.Patterns {
		t, err := compile(p)
		if err != nil {
			return nil, err
		}
		g.patterns = append(g.patterns, t)
	}
	return g, nil
}

// Snapshot returns the snapshot baskets are generated from.
func (g *Generator) Snapshot() *lattice.Snapshot { return g.snap }

// GenerateID is Generate for the LEGO with the given id.
func (g *Generator) GenerateID(id string) (*Basket, error) {
	i, ok := g.snap.IndexOf(id)
	if !ok {
		return nil, fmt.Errorf("basket: unknown lego %q", id)
	}
	return g.Generate(i)
}

// Generate builds the basket for the LEGO at registry index i. The basket
// always has the configured shape; buckets that search could not fill are
// padded and reported through Basket.Err.
func (g *Generator) Generate(i int) (*Basket, error) {
	if i < 0 || i >= g.snap.Len() {
		return nil, fmt.Errorf("basket: lego index %d out of range", i)
	}
	own := g.snap.Lego(i)
	seed := g.snap.SeedOf(i)
	final := g.snap.IsLastInSeed(i)

	b := &builder{
		g:      g,
		at:     i,
		ownTok: g.tok.Tokens(own.Target),
		seen:   map[string]bool{},
		slots:  make([][]Phrase, len(g.cfg.Buckets)),
		padded: make([]int, len(g.cfg.Buckets)),
	}
	if final {
		b.reserve = 1
		b.seen[textnorm.Normalize(seed.Target)] = true
	}

	g.fromPatterns(b, i, own)
	if g.cfg.SeedWindows && !b.full() {
		g.fromWindows(b, own)
	}
	if !b.full() {
		g.pad(b, own)
	}
	if final {
		last := len(b.slots) - 1
		b.slots[last] = append(b.slots[last], Phrase{Known: seed.Known, Target: seed.Target, Tag: TagSeed, LegoCount: len(seed.Legos)})
	}

	out := &Basket{LegoID: own.ID, Lego: lattice.Pair{Known: own.Known, Target: own.Target}, Phrases: make([]Phrase, 0, g.cfg.Size)}
	for k, bk := range g.cfg.Buckets {
		out.Phrases = append(out.Phrases, b.slots[k]...)
		out.Distribution = append(out.Distribution, BucketCount{
			Name:   bk.Name,
			Quota:  bk.Quota,
			Filled: len(b.slots[k]) - b.padded[k],
			Padded: b.padded[k],
		})
	}
	out.Rejected = b.rejected
	if err := out.Err(); err != nil {
		g.Logger.Warn().Str("lego_id", own.ID).Err(err).Msg("basket padded")
	}
	return out, nil
}

// pool returns the distinct new LEGOs before index i, nearest first, excluding
// the owning LEGO's own realization.
func (g *Generator) pool(i int, own lattice.Lego) []lattice.Lego {
	self := textnorm.Surface(own.Target)
	var out []lattice.Lego
	for j := i - 1; j >= 0; j-- {
		l := g.snap.Lego(j)
		if l.Origin != lattice.New || textnorm.Surface(l.Target) == self {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (g *Generator) fromPatterns(b *builder, i int, own lattice.Lego) {
	pool := g.pool(i, own)
	words := len(b.ownTok)
	for _, t := range g.patterns {
		if b.full() {
			return
		}
		if !t.when(own, words) || t.slots > len(pool) || !b.wants(t.legoCount()) {
			continue
		}
		fillers := []Filler{{}}
		if t.filler {
			if len(g.cfg.Fillers) == 0 {
				continue
			}
			fillers = g.cfg.Fillers
		}
		tried := 0
		permutations(len(pool), t.slots, func(idx []int) bool {
			known := make([]string, len(idx))
			target := make([]string, len(idx))
			for n, j := range idx {
				known[n], target[n] = pool[j].Known, pool[j].Target
			}
			for _, f := range fillers {
				if tried >= g.cfg.MaxCandidates {
					return false
				}
				tried++
				b.offer(Phrase{
					Known:     t.render(own.Known, known, f.Known),
					Target:    t.render(own.Target, target, f.Target),
					Tag:       t.Tag,
					LegoCount: t.legoCount(),
				})
			}
			return b.wants(t.legoCount())
		})
	}
}

// fromWindows offers contiguous LEGO runs of committed seeds that contain the
// owning LEGO's realization. Runs in the owning seed stop at the LEGO itself.
func (g *Generator) fromWindows(b *builder, own lattice.Lego) {
	self := textnorm.Surface(own.Target)
	seeds := g.snap.Seeds()
	tried := 0
	for si := len(seeds) - 1; si >= 0; si-- {
		s := seeds[si]
		if s.Position > own.Pos.Seed {
			continue
		}
		limit := len(s.Legos)
		if s.Position == own.Pos.Seed {
			limit = own.Pos.Seq
		}
		for n := limit; n >= 2; n-- {
			for a := 0; a+n <= limit; a++ {
				run := s.Legos[a : a+n]
				if !hasSurface(run, self) {
					continue
				}
				if tried >= g.cfg.MaxCandidates || b.full() {
					return
				}
				tried++
				p := Phrase{Tag: TagWindow, LegoCount: n}
				if n == len(s.Legos) {
					p.Known, p.Target = s.Known, s.Target
				} else {
					p.Known, p.Target = join(run)
				}
				b.offer(p)
			}
		}
	}
}

// pad fills remaining slots with the LEGO wrapped in fillers, falling back to
// the bare LEGO text.
func (g *Generator) pad(b *builder, own lattice.Lego) {
	next := 0
	for k := range b.slots {
		for b.room(k) {
			p := Phrase{Known: own.Known, Target: own.Target, Tag: TagPadding, LegoCount: 1}
			for next < len(g.cfg.Fillers) {
				f := g.cfg.Fillers[next]
				next++
				cand := Phrase{
					Known:     strings.TrimSpace(f.Known + " " + own.Known),
					Target:    strings.TrimSpace(f.Target + " " + own.Target),
					Tag:       TagPadding,
					LegoCount: 1,
				}
				key := textnorm.Normalize(cand.Target)
				if b.seen[key] || b.forward(cand.Target) || !g.gate.Check(cand.Target, b.at).Pass {
					continue
				}
				b.seen[key] = true
				p = cand
				break
			}
			b.slots[k] = append(b.slots[k], p)
			b.padded[k]++
		}
	}
}

type builder struct {
	g       *Generator
	at      int
	ownTok  []string
	seen    map[string]bool
	slots   [][]Phrase
	padded  []int
	reserve int
	// rejected counts candidates that failed the GATE check.
	rejected int
}

func (b *builder) bucket(count int) int {
	bs := b.g.cfg.Buckets
	for k, bk := range bs {
		if count >= bk.Min && (bk.Max == 0 || count <= bk.Max) {
			return k
		}
	}
	return -1
}

func (b *builder) room(k int) bool {
	limit := b.g.cfg.Buckets[k].Quota
	if k == len(b.slots)-1 {
		limit -= b.reserve
	}
	return len(b.slots[k]) < limit
}

func (b *builder) wants(count int) bool {
	k := b.bucket(count)
	return k >= 0 && b.room(k)
}

func (b *builder) full() bool {
	for k := range b.slots {
		if b.room(k) {
			return false
		}
	}
	return true
}

// offer accepts p into its bucket if there is room, it contains the owning
// LEGO, it is not a repeat, it spells out no later LEGO and it passes the
// GATE check.
func (b *builder) offer(p Phrase) bool {
	k := b.bucket(p.LegoCount)
	if k < 0 || !b.room(k) {
		return false
	}
	key := textnorm.Normalize(p.Target)
	if key == "" || b.seen[key] {
		return false
	}
	if !containsRun(b.g.tok.Tokens(p.Target), b.ownTok) {
		return false
	}
	if b.forward(p.Target) {
		return false
	}
	if !b.g.gate.Check(p.Target, b.at).Pass {
		b.rejected++
		return false
	}
	b.seen[key] = true
	b.slots[k] = append(b.slots[k], p)
	return true
}

// forward reports whether target contains a LEGO introduced after the owning
// one.
func (b *builder) forward(target string) bool {
	for _, j := range b.g.match.Match(target) {
		if j > b.at {
			return true
		}
	}
	return false
}

// containsRun reports whether needle occurs as a contiguous token run in hay.
func containsRun(hay, needle []string) bool {
	if len(needle) == 0 {
		return true
	}
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j, t := range needle {
			if hay[i+j] != t {
				continue outer
			}
		}
		return true
	}
	return false
}

func hasSurface(run []lattice.Lego, surface string) bool {
	for _, l := range run {
		if textnorm.Surface(l.Target) == surface {
			return true
		}
	}
	return false
}

func join(run []lattice.Lego) (known, target string) {
	ks := make([]string, len(run))
	ts := make([]string, len(run))
	for i, l := range run {
		ks[i], ts[i] = l.Known, l.Target
	}
	return strings.Join(ks, " "), strings.Join(ts, " ")
}
