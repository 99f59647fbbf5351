// Package lattice holds the append-only, order-indexed registry of committed
// seeds and LEGOs together with the cumulative vocabulary they introduce.
//
// The Registry is the single writer. Every successful Append publishes a new
// immutable Snapshot; readers hold a Snapshot handle and never observe a
// partially applied batch.
package lattice

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/japaniel/coursegen/pkg/textnorm"
	"github.com/japaniel/coursegen/pkg/tokenize"
)

var (
	// ErrSeedOrder is returned when appended seeds do not extend the registry
	// in strictly increasing position order.
	ErrSeedOrder = errors.New("seed out of order")
	// ErrInvalidLego is returned when an appended LEGO breaks a registry invariant.
	ErrInvalidLego = errors.New("invalid lego")
)

// Registry is the append-only store of committed seeds.
type Registry struct {
	mu  sync.Mutex
	cur atomic.Pointer[Snapshot]
}

// NewRegistry creates an empty registry whose vocabulary is tokenized with tok.
func NewRegistry(tok tokenize.Tokenizer) *Registry {
	if tok == nil {
		tok = tokenize.Words{}
	}
	r := &Registry{}
	r.cur.Store(emptySnapshot(tok))
	return r
}

// Load rebuilds a registry from persisted seeds, re-checking every invariant.
func Load(tok tokenize.Tokenizer, seeds []Seed) (*Registry, error) {
	r := NewRegistry(tok)
	if len(seeds) == 0 {
		return r, nil
	}
	if _, err := r.Append(seeds); err != nil {
		return nil, err
	}
	return r, nil
}

// Snapshot returns the latest fully committed snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.cur.Load()
}

// Append commits seeds as one batch. Either every seed becomes visible in the
// returned snapshot or none does.
func (r *Registry) Append(seeds []Seed) (*Snapshot, error) {
	return r.AppendWith(seeds, nil)
}

// AppendWith is Append with a persist step. persist receives the snapshot the
// batch would produce and runs under the writer lock; the snapshot is
// published only if persist returns nil.
func (r *Registry) AppendWith(seeds []Seed, persist func(next *Snapshot) error) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.cur.Load().extend(seeds)
	if err != nil {
		return nil, err
	}
	if persist != nil {
		if err := persist(next); err != nil {
			return nil, err
		}
	}
	r.cur.Store(next)
	return next, nil
}

type legoRef struct {
	seed int // index into Snapshot.seeds
	seq  int // index into Seed.Legos
}

// Snapshot is an immutable view of the registry at one version.
type Snapshot struct {
	version int
	tok     tokenize.Tokenizer

	seeds   []Seed
	order   []legoRef
	byID    map[string]int
	seedIdx map[int]int

	// firstSeen maps a vocabulary token to the global index of the LEGO that
	// introduced it; the vocabulary at index i is every token with
	// firstSeen <= i.
	firstSeen map[string]int
	vocabSize []int
	// canonical maps the surface form of a new LEGO's target to its index.
	canonical map[string]int
}

func emptySnapshot(tok tokenize.Tokenizer) *Snapshot {
	return &Snapshot{
		tok:       tok,
		byID:      map[string]int{},
		seedIdx:   map[int]int{},
		firstSeen: map[string]int{},
		canonical: map[string]int{},
	}
}

func (s *Snapshot) clone() *Snapshot {
	n := &Snapshot{
		version:   s.version,
		tok:       s.tok,
		seeds:     append([]Seed(nil), s.seeds...),
		order:     append([]legoRef(nil), s.order...),
		byID:      make(map[string]int, len(s.byID)),
		seedIdx:   make(map[int]int, len(s.seedIdx)),
		firstSeen: make(map[string]int, len(s.firstSeen)),
		vocabSize: append([]int(nil), s.vocabSize...),
		canonical: make(map[string]int, len(s.canonical)),
	}
	for k, v := range s.byID {
		n.byID[k] = v
	}
	for k, v := range s.seedIdx {
		n.seedIdx[k] = v
	}
	for k, v := range s.firstSeen {
		n.firstSeen[k] = v
	}
	for k, v := range s.canonical {
		n.canonical[k] = v
	}
	return n
}

func (s *Snapshot) extend(seeds []Seed) (*Snapshot, error) {
	n := s.clone()
	last := s.LastSeedPosition()
	for _, seed := range seeds {
		if seed.Position <= last {
			return nil, fmt.Errorf("%w: position %d after %d", ErrSeedOrder, seed.Position, last)
		}
		if want := SeedID(seed.Position); seed.ID != want {
			return nil, fmt.Errorf("%w: seed %q at position %d, want id %q", ErrSeedOrder, seed.ID, seed.Position, want)
		}
		last = seed.Position

		seed.Legos = append([]Lego(nil), seed.Legos...)
		si := len(n.seeds)
		n.seeds = append(n.seeds, seed)
		n.seedIdx[seed.Position] = si
		legos := n.seeds[si].Legos
		for j := range legos {
			l := &legos[j]
			l.Pos = Position{Seed: seed.Position, Seq: j + 1}
			if err := n.admit(l, seed.ID, j+1); err != nil {
				return nil, err
			}
			gi := len(n.order)
			n.order = append(n.order, legoRef{seed: si, seq: j})
			n.byID[l.ID] = gi
			if l.Origin == New {
				n.canonical[textnorm.Surface(l.Target)] = gi
			}
			for _, tok := range n.tok.Tokens(l.Target) {
				if _, ok := n.firstSeen[tok]; !ok {
					n.firstSeen[tok] = gi
				}
			}
			n.vocabSize = append(n.vocabSize, len(n.firstSeen))
		}
	}
	n.version++
	return n, nil
}

// admit checks a LEGO against everything committed before it.
func (s *Snapshot) admit(l *Lego, seedID string, seq int) error {
	if want := LegoID(seedID, seq); l.ID != want {
		return fmt.Errorf("%w: id %q at %s position %d, want %q", ErrInvalidLego, l.ID, seedID, seq, want)
	}
	if _, dup := s.byID[l.ID]; dup {
		return fmt.Errorf("%w: duplicate id %q", ErrInvalidLego, l.ID)
	}
	if l.Kind != Atomic && l.Kind != Composite {
		return fmt.Errorf("%w: %s has kind %q", ErrInvalidLego, l.ID, l.Kind)
	}
	if l.Kind == Composite && len(l.Components) == 0 {
		return fmt.Errorf("%w: composite %s has no components", ErrInvalidLego, l.ID)
	}
	for _, c := range l.Components {
		if c.FeederID == "" {
			continue
		}
		if _, ok := s.byID[c.FeederID]; !ok {
			return fmt.Errorf("%w: %s component feeder %q not committed", ErrInvalidLego, l.ID, c.FeederID)
		}
	}
	key := textnorm.Surface(l.Target)
	switch l.Origin {
	case New:
		if prev, ok := s.canonical[key]; ok {
			return fmt.Errorf("%w: %s claims new but %s already introduced %q", ErrInvalidLego, l.ID, s.legoAt(prev).ID, l.Target)
		}
	case Reference:
		gi, ok := s.byID[l.RefID]
		if !ok {
			return fmt.Errorf("%w: %s references unknown %q", ErrInvalidLego, l.ID, l.RefID)
		}
		ref := s.legoAt(gi)
		if ref.Origin != New || textnorm.Surface(ref.Target) != key {
			return fmt.Errorf("%w: %s references %s with different target", ErrInvalidLego, l.ID, ref.ID)
		}
		if ref.Pos.Seed >= l.Pos.Seed {
			return fmt.Errorf("%w: %s references %s from the same or a later seed", ErrInvalidLego, l.ID, ref.ID)
		}
	default:
		return fmt.Errorf("%w: %s has origin %q", ErrInvalidLego, l.ID, l.Origin)
	}
	return nil
}

func (s *Snapshot) legoAt(i int) *Lego {
	r := s.order[i]
	return &s.seeds[r.seed].Legos[r.seq]
}

// Version increases by one with every committed batch.
func (s *Snapshot) Version() int { return s.version }

// Tokenizer returns the tokenizer the vocabulary was built with.
func (s *Snapshot) Tokenizer() tokenize.Tokenizer { return s.tok }

// Len returns the number of committed LEGOs.
func (s *Snapshot) Len() int { return len(s.order) }

// Lego returns the LEGO at global index i.
func (s *Snapshot) Lego(i int) Lego { return *s.legoAt(i) }

// Legos returns every LEGO in registry order.
func (s *Snapshot) Legos() []Lego {
	out := make([]Lego, len(s.order))
	for i := range s.order {
		out[i] = *s.legoAt(i)
	}
	return out
}

// IndexOf returns the global index of the LEGO with the given id.
func (s *Snapshot) IndexOf(id string) (int, bool) {
	i, ok := s.byID[id]
	return i, ok
}

// Seeds returns the committed seeds in position order. The slice and the
// LEGOs it holds must not be modified.
func (s *Snapshot) Seeds() []Seed { return s.seeds[:len(s.seeds):len(s.seeds)] }

// Seed returns the seed committed at position.
func (s *Snapshot) Seed(position int) (Seed, bool) {
	i, ok := s.seedIdx[position]
	if !ok {
		return Seed{}, false
	}
	return s.seeds[i], true
}

// SeedOf returns the seed owning the LEGO at global index i.
func (s *Snapshot) SeedOf(i int) Seed { return s.seeds[s.order[i].seed] }

// IsLastInSeed reports whether the LEGO at i is the final LEGO of its seed.
func (s *Snapshot) IsLastInSeed(i int) bool {
	r := s.order[i]
	return r.seq == len(s.seeds[r.seed].Legos)-1
}

// LastSeedPosition returns the highest committed seed position, or 0.
func (s *Snapshot) LastSeedPosition() int {
	if len(s.seeds) == 0 {
		return 0
	}
	return s.seeds[len(s.seeds)-1].Position
}

// Canonical returns the index of the new LEGO whose target has the given
// surface form (see textnorm.Surface).
func (s *Snapshot) Canonical(surface string) (int, bool) {
	i, ok := s.canonical[surface]
	return i, ok
}

// Available reports whether token is in the cumulative vocabulary at index i.
// Runs in constant time.
func (s *Snapshot) Available(token string, i int) bool {
	first, ok := s.firstSeen[token]
	return ok && first <= i
}

// FirstSeen returns the index of the LEGO that introduced token.
func (s *Snapshot) FirstSeen(token string) (int, bool) {
	i, ok := s.firstSeen[token]
	return i, ok
}

// EachToken calls fn for every vocabulary token with its introduction index.
func (s *Snapshot) EachToken(fn func(token string, first int)) {
	for t, i := range s.firstSeen {
		fn(t, i)
	}
}

// VocabularySize returns the size of the cumulative vocabulary at index i.
func (s *Snapshot) VocabularySize(i int) int {
	if i < 0 || len(s.vocabSize) == 0 {
		return 0
	}
	if i >= len(s.vocabSize) {
		i = len(s.vocabSize) - 1
	}
	return s.vocabSize[i]
}

// VocabularyAt returns the sorted cumulative vocabulary at index i.
func (s *Snapshot) VocabularyAt(i int) []string {
	var out []string
	for t, first := range s.firstSeen {
		if first <= i {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
