// Package merge turns independently produced seed decompositions into one
// committed registry extension.
//
// A merge batch is all-or-nothing: every seed must tile exactly and every LEGO
// must pass its origin and component checks, otherwise nothing in the batch is
// returned for commit. Identifiers are assigned here, in seed-position then
// left-to-right order, never in the order workers finished.
package merge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/japaniel/coursegen/pkg/lattice"
	"github.com/japaniel/coursegen/pkg/textnorm"
	"github.com/japaniel/coursegen/pkg/tiling"
)

var (
	ErrBatchRejected       = errors.New("merge batch rejected")
	ErrSeedOrder           = errors.New("seed position already committed or repeated")
	ErrDuplicateNewLego    = errors.New("duplicate new lego")
	ErrUnresolvedReference = errors.New("reference lego has no earlier new lego")
	ErrRepeatedInSeed      = errors.New("lego target repeats within its seed")
	ErrMissingComponents   = errors.New("composite lego missing components")
	ErrDanglingFeeder      = errors.New("dangling feeder reference")
	ErrComponentTiling     = errors.New("components do not tile lego")
)

// ProposedComponent is one component of a proposed composite LEGO. Feeder is a
// local id from the same proposal, or the final id of a LEGO committed earlier
// or proposed by an earlier seed in the same batch.
type ProposedComponent struct {
	Known  string `json:"known_fragment"`
	Target string `json:"target_fragment"`
	Feeder string `json:"feeder_id,omitempty"`
}

// ProposedLego is a LEGO with a provisional, proposal-scoped id. Origin may be
// left empty for the merge to decide.
type ProposedLego struct {
	LocalID    string              `json:"local_id"`
	Kind       lattice.Kind        `json:"kind,omitempty"`
	Origin     lattice.Origin      `json:"origin,omitempty"`
	Known      string              `json:"known_text"`
	Target     string              `json:"target_text"`
	Components []ProposedComponent `json:"components,omitempty"`
}

// Proposal is one worker's decomposition of one seed.
type Proposal struct {
	Seed   lattice.SeedInput `json:"seed"`
	Legos  []ProposedLego    `json:"legos"`
	Worker string            `json:"worker,omitempty"`
}

// Targets returns the proposed LEGO target texts in order.
func (p Proposal) Targets() []string {
	out := make([]string, len(p.Legos))
	for i, l := range p.Legos {
		out[i] = l.Target
	}
	return out
}

// LegoError is a failure scoped to one proposed LEGO.
type LegoError struct {
	SeedID  string
	LegoID  string
	LocalID string
	Err     error
	Detail  string
}

func (e *LegoError) Error() string {
	return fmt.Sprintf("%s (%s): %v: %s", e.LegoID, e.LocalID, e.Err, e.Detail)
}

func (e *LegoError) Unwrap() error { return e.Err }

// Failure is one entry in a merge report.
type Failure struct {
	SeedID string          `json:"seed_id"`
	LegoID string          `json:"lego_id,omitempty"`
	Kind   string          `json:"kind"`
	Detail string          `json:"detail"`
	Tiling *tiling.Failure `json:"tiling,omitempty"`

	position int
	err      error
}

// Err returns the underlying error.
func (f Failure) Err() error { return f.err }

// Report summarizes a merge batch.
type Report struct {
	BatchID    string    `json:"batch_id"`
	Seeds      int       `json:"seeds"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	NewLegos   int       `json:"new_legos"`
	References int       `json:"references"`
	Accepted   bool      `json:"accepted"`
	Committed  bool      `json:"committed"`
	Failures   []Failure `json:"failures,omitempty"`
}

// FailedPositions returns the seed positions with at least one failure.
func (r *Report) FailedPositions() []int {
	seen := map[int]bool{}
	var out []int
	for _, f := range r.Failures {
		if !seen[f.position] {
			seen[f.position] = true
			out = append(out, f.position)
		}
	}
	sort.Ints(out)
	return out
}

func (r *Report) add(pos int, seedID, legoID string, err error) {
	f := Failure{SeedID: seedID, LegoID: legoID, Detail: err.Error(), position: pos, err: err}
	var tf *tiling.Failure
	switch {
	case errors.As(err, &tf):
		f.Kind = "tiling"
		f.Tiling = tf
	case errors.Is(err, ErrSeedOrder):
		f.Kind = "seed_order"
	case errors.Is(err, ErrDuplicateNewLego):
		f.Kind = "duplicate_new_lego"
	case errors.Is(err, ErrUnresolvedReference):
		f.Kind = "unresolved_reference"
	case errors.Is(err, ErrRepeatedInSeed):
		f.Kind = "repeated_in_seed"
	case errors.Is(err, ErrMissingComponents):
		f.Kind = "missing_components"
	case errors.Is(err, ErrDanglingFeeder):
		f.Kind = "dangling_feeder"
	case errors.Is(err, ErrComponentTiling):
		f.Kind = "component_tiling"
	default:
		f.Kind = "unknown"
	}
	r.Failures = append(r.Failures, f)
}

// Merger assigns identifiers, deduplicates and validates proposals.
type Merger struct {
	Validator tiling.Validator
	Logger    zerolog.Logger
}

// NewMerger returns a Merger with a silent logger.
func NewMerger(v tiling.Validator) *Merger {
	return &Merger{Validator: v, Logger: zerolog.Nop()}
}

// Merge validates proposals against snap and returns the seeds ready for
// Registry.Append. On any failure it returns no seeds, a report naming every
// failure, and an error wrapping ErrBatchRejected.
func (m *Merger) Merge(snap *lattice.Snapshot, proposals []Proposal) ([]lattice.Seed, *Report, error) {
	rep := &Report{BatchID: uuid.NewString(), Seeds: len(proposals)}
	log := m.Logger.With().Str("batch_id", rep.BatchID).Logger()

	ordered := append([]Proposal(nil), proposals...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seed.Position < ordered[j].Seed.Position })

	st := &state{
		snap:  snap,
		canon: map[string]string{},
		ids:   map[string]bool{},
	}
	last := snap.LastSeedPosition()
	seen := map[int]bool{}
	var out []lattice.Seed

	for _, p := range ordered {
		pos := p.Seed.Position
		seedID := lattice.SeedID(pos)
		before := len(rep.Failures)

		if pos <= last || seen[pos] {
			rep.add(pos, seedID, "", fmt.Errorf("%w: %d", ErrSeedOrder, pos))
			rep.Failed++
			continue
		}
		seen[pos] = true

		if err := m.Validator.Validate(seedID, p.Seed.Target, p.Targets()); err != nil {
			rep.add(pos, seedID, "", err)
		}
		seed, errs := m.build(st, seedID, p)
		for _, le := range errs {
			rep.add(pos, seedID, le.LegoID, le)
		}
		if len(rep.Failures) > before {
			rep.Failed++
			log.Warn().Str("seed_id", seedID).Int("failures", len(rep.Failures)-before).Msg("seed rejected")
			continue
		}
		rep.Passed++
		out = append(out, seed)
	}

	if len(rep.Failures) > 0 {
		log.Warn().Int("failed", rep.Failed).Int("passed", rep.Passed).Msg("merge batch rejected")
		return nil, rep, fmt.Errorf("%w: %d of %d seeds failed", ErrBatchRejected, rep.Failed, rep.Seeds)
	}
	for _, s := range out {
		for _, l := range s.Legos {
			if l.Origin == lattice.New {
				rep.NewLegos++
			} else {
				rep.References++
			}
		}
	}
	rep.Accepted = true
	log.Info().Int("seeds", len(out)).Int("new", rep.NewLegos).Int("references", rep.References).Msg("merge batch accepted")
	return out, rep, nil
}

// state carries dedupe and id bookkeeping across the seeds of one batch.
type state struct {
	snap *lattice.Snapshot
	// canon maps the surface form of every new target seen in this batch to
	// its final id.
	canon map[string]string
	// ids holds every final id assigned in this batch.
	ids map[string]bool
}

func (st *state) canonical(surface string) (string, bool) {
	if i, ok := st.snap.Canonical(surface); ok {
		return st.snap.Lego(i).ID, true
	}
	id, ok := st.canon[surface]
	return id, ok
}

func (st *state) known(id string) bool {
	if _, ok := st.snap.IndexOf(id); ok {
		return true
	}
	return st.ids[id]
}

func (m *Merger) build(st *state, seedID string, p Proposal) (lattice.Seed, []*LegoError) {
	seed := lattice.Seed{
		ID:       seedID,
		Position: p.Seed.Position,
		Known:    p.Seed.Known,
		Target:   p.Seed.Target,
		Legos:    make([]lattice.Lego, 0, len(p.Legos)),
	}
	local := map[string]string{}
	// introduced holds the surfaces this seed itself introduced as new.
	introduced := map[string]string{}
	var errs []*LegoError

	for i, pl := range p.Legos {
		id := lattice.LegoID(seedID, i+1)
		fail := func(err error, format string, args ...any) {
			errs = append(errs, &LegoError{SeedID: seedID, LegoID: id, LocalID: pl.LocalID, Err: err, Detail: fmt.Sprintf(format, args...)})
		}

		l := lattice.Lego{ID: id, Kind: pl.Kind, Known: pl.Known, Target: pl.Target}
		if l.Kind == "" {
			l.Kind = lattice.Atomic
			if len(pl.Components) > 0 {
				l.Kind = lattice.Composite
			}
		}

		surface := textnorm.Surface(pl.Target)
		prev, dup := st.canonical(surface)
		switch {
		case introduced[surface] != "":
			fail(ErrRepeatedInSeed, "%q already introduced by sibling %s; propose the repeat as one chunk", pl.Target, introduced[surface])
		case dup && pl.Origin == lattice.New:
			fail(ErrDuplicateNewLego, "%q already introduced by %s", pl.Target, prev)
		case dup:
			l.Origin, l.RefID = lattice.Reference, prev
		case pl.Origin == lattice.Reference:
			fail(ErrUnresolvedReference, "no earlier lego with target %q", pl.Target)
		default:
			l.Origin = lattice.New
			st.canon[surface] = id
			introduced[surface] = id
		}

		if l.Kind == lattice.Composite {
			if len(pl.Components) == 0 {
				fail(ErrMissingComponents, "composite %q has no component breakdown", pl.Target)
			}
			parts := make([]string, 0, len(pl.Components))
			for _, c := range pl.Components {
				comp := lattice.Component{Known: c.Known, Target: c.Target}
				if c.Feeder != "" {
					switch {
					case local[c.Feeder] != "":
						comp.FeederID = local[c.Feeder]
					case st.known(c.Feeder):
						comp.FeederID = c.Feeder
					default:
						fail(ErrDanglingFeeder, "component %q feeder %q does not exist", c.Target, c.Feeder)
					}
				}
				l.Components = append(l.Components, comp)
				parts = append(parts, c.Target)
			}
			if len(parts) > 0 {
				if err := m.Validator.Validate(id, pl.Target, parts); err != nil {
					fail(ErrComponentTiling, "%v", err)
				}
			}
		}

		if pl.LocalID != "" {
			local[pl.LocalID] = id
		}
		st.ids[id] = true
		seed.Legos = append(seed.Legos, l)
	}
	return seed, errs
}
