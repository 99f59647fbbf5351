package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/coursegen/pkg/lattice"
	"github.com/japaniel/coursegen/pkg/tiling"
	"github.com/japaniel/coursegen/pkg/tokenize"
)

func proposal(pos int, known, target string, legos ...ProposedLego) Proposal {
	return Proposal{Seed: lattice.SeedInput{Position: pos, Known: known, Target: target}, Legos: legos}
}

func atom(local, known, target string) ProposedLego {
	return ProposedLego{LocalID: local, Known: known, Target: target}
}

func TestMergeAssignsIdsAndDeduplicates(t *testing.T) {
	reg := lattice.NewRegistry(tokenize.Words{})
	m := NewMerger(tiling.Validator{})

	// Submitted out of order, as parallel workers would finish.
	props := []Proposal{
		proposal(2, "I want to speak with you", "quiero hablar contigo",
			atom("a", "I want", "quiero"), atom("b", "to speak", "hablar"), atom("c", "with you", "contigo")),
		proposal(1, "I want to speak", "quiero hablar",
			atom("x", "I want", "quiero"), atom("y", "to speak", "hablar")),
	}
	seeds, rep, err := m.Merge(reg.Snapshot(), props)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.True(t, rep.Accepted)
	assert.Equal(t, 3, rep.NewLegos)
	assert.Equal(t, 2, rep.References)
	assert.NotEmpty(t, rep.BatchID)

	s1, s2 := seeds[0], seeds[1]
	assert.Equal(t, "S0001", s1.ID)
	assert.Equal(t, []string{"S0001L01", "S0001L02"}, []string{s1.Legos[0].ID, s1.Legos[1].ID})
	assert.Equal(t, lattice.New, s1.Legos[0].Origin)

	assert.Equal(t, lattice.Reference, s2.Legos[0].Origin)
	assert.Equal(t, "S0001L01", s2.Legos[0].RefID)
	assert.Equal(t, lattice.Reference, s2.Legos[1].Origin)
	assert.Equal(t, "S0001L02", s2.Legos[1].RefID)
	assert.Equal(t, lattice.New, s2.Legos[2].Origin)
	assert.Equal(t, "S0002L03", s2.Legos[2].ID)

	snap, err := reg.Append(seeds)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.VocabularySize(snap.Len()-1))
}

func TestMergeDedupesAgainstCommittedRegistry(t *testing.T) {
	reg := lattice.NewRegistry(tokenize.Words{})
	m := NewMerger(tiling.Validator{})
	seeds, _, err := m.Merge(reg.Snapshot(), []Proposal{
		proposal(1, "I want to speak", "quiero hablar", atom("x", "I want", "quiero"), atom("y", "to speak", "hablar")),
	})
	require.NoError(t, err)
	_, err = reg.Append(seeds)
	require.NoError(t, err)

	seeds, _, err = m.Merge(reg.Snapshot(), []Proposal{
		proposal(2, "I want", "Quiero.", atom("q", "I want", "Quiero")),
		proposal(3, "to speak", "hablar", atom("h", "to speak", "hablar")),
	})
	require.NoError(t, err)
	// Capitalization differs, so this is a new realization, not a reference.
	assert.Equal(t, lattice.New, seeds[0].Legos[0].Origin)
	assert.Equal(t, lattice.Reference, seeds[1].Legos[0].Origin)
	assert.Equal(t, "S0001L02", seeds[1].Legos[0].RefID)
}

func TestMergeRejectsWholeBatchOnTilingFailure(t *testing.T) {
	reg := lattice.NewRegistry(tokenize.Words{})
	m := NewMerger(tiling.Validator{})
	seeds, rep, err := m.Merge(reg.Snapshot(), []Proposal{
		proposal(1, "I want to speak", "quiero hablar", atom("x", "I want", "quiero"), atom("y", "to speak", "hablar")),
		proposal(2, "I want to speak with you", "quiero hablar contigo", atom("x", "I want", "quiero"), atom("y", "to speak", "hablar")),
	})
	require.ErrorIs(t, err, ErrBatchRejected)
	assert.Nil(t, seeds)
	assert.False(t, rep.Accepted)
	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Failures, 1)
	f := rep.Failures[0]
	assert.Equal(t, "tiling", f.Kind)
	assert.Equal(t, "S0002", f.SeedID)
	require.NotNil(t, f.Tiling)
	assert.Equal(t, []string{"contigo"}, f.Tiling.Missing)
	assert.True(t, errors.Is(f.Err(), tiling.ErrTiling))
	assert.Equal(t, []int{2}, rep.FailedPositions())
}

func TestMergeLegoLevelFailures(t *testing.T) {
	reg := lattice.NewRegistry(tokenize.Words{})
	m := NewMerger(tiling.Validator{})
	seeds, _, err := m.Merge(reg.Snapshot(), []Proposal{
		proposal(1, "I want to speak", "quiero hablar", atom("x", "I want", "quiero"), atom("y", "to speak", "hablar")),
	})
	require.NoError(t, err)
	_, err = reg.Append(seeds)
	require.NoError(t, err)

	cases := []struct {
		name string
		prop Proposal
		want error
		kind string
	}{
		{
			name: "explicit new duplicates earlier",
			prop: proposal(2, "I want", "quiero", ProposedLego{LocalID: "a", Origin: lattice.New, Known: "I want", Target: "quiero"}),
			want: ErrDuplicateNewLego, kind: "duplicate_new_lego",
		},
		{
			name: "explicit reference without earlier new",
			prop: proposal(2, "with you", "contigo", ProposedLego{LocalID: "a", Origin: lattice.Reference, Known: "with you", Target: "contigo"}),
			want: ErrUnresolvedReference, kind: "unresolved_reference",
		},
		{
			name: "composite without components",
			prop: proposal(2, "with you", "contigo", ProposedLego{LocalID: "a", Kind: lattice.Composite, Known: "with you", Target: "contigo"}),
			want: ErrMissingComponents, kind: "missing_components",
		},
		{
			name: "dangling feeder",
			prop: proposal(2, "to speak with you", "hablar contigo", ProposedLego{
				LocalID: "a", Known: "to speak with you", Target: "hablar contigo",
				Components: []ProposedComponent{
					{Known: "to speak", Target: "hablar", Feeder: "S0001L09"},
					{Known: "with you", Target: "contigo"},
				},
			}),
			want: ErrDanglingFeeder, kind: "dangling_feeder",
		},
		{
			name: "components do not tile",
			prop: proposal(2, "to speak with you", "hablar contigo", ProposedLego{
				LocalID: "a", Known: "to speak with you", Target: "hablar contigo",
				Components: []ProposedComponent{{Known: "to speak", Target: "hablar", Feeder: "S0001L02"}},
			}),
			want: ErrComponentTiling, kind: "component_tiling",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, rep, err := m.Merge(reg.Snapshot(), []Proposal{c.prop})
			require.ErrorIs(t, err, ErrBatchRejected)
			require.NotEmpty(t, rep.Failures)
			f := rep.Failures[0]
			assert.Equal(t, c.kind, f.Kind)
			assert.Equal(t, "S0002L01", f.LegoID)
			assert.ErrorIs(t, f.Err(), c.want)
			var le *LegoError
			assert.ErrorAs(t, f.Err(), &le)
		})
	}
}

func TestMergeResolvesComposites(t *testing.T) {
	reg := lattice.NewRegistry(tokenize.Words{})
	m := NewMerger(tiling.Validator{})
	props := []Proposal{
		proposal(1, "I want to speak", "quiero hablar", atom("x", "I want", "quiero"), atom("y", "to speak", "hablar")),
		proposal(2, "I want to speak with you", "quiero hablar contigo",
			atom("w", "I want", "quiero"),
			ProposedLego{
				LocalID: "hc", Known: "to speak with you", Target: "hablar contigo",
				Components: []ProposedComponent{
					{Known: "to speak", Target: "hablar", Feeder: "S0001L02"},
					{Known: "with you", Target: "contigo"},
				},
			},
		),
	}
	seeds, _, err := m.Merge(reg.Snapshot(), props)
	require.NoError(t, err)
	l := seeds[1].Legos[1]
	assert.Equal(t, lattice.Composite, l.Kind)
	assert.Equal(t, "S0001L02", l.Components[0].FeederID)
	assert.Empty(t, l.Components[1].FeederID)

	_, err = reg.Append(seeds)
	require.NoError(t, err)
}

func TestMergeRejectsCommittedPosition(t *testing.T) {
	reg := lattice.NewRegistry(tokenize.Words{})
	m := NewMerger(tiling.Validator{})
	p := proposal(1, "I want", "quiero", atom("x", "I want", "quiero"))
	seeds, _, err := m.Merge(reg.Snapshot(), []Proposal{p})
	require.NoError(t, err)
	_, err = reg.Append(seeds)
	require.NoError(t, err)

	_, rep, err := m.Merge(reg.Snapshot(), []Proposal{p})
	require.ErrorIs(t, err, ErrBatchRejected)
	assert.Equal(t, "seed_order", rep.Failures[0].Kind)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, rep.Seeds, rep.Passed+rep.Failed)
	assert.Contains(t, err.Error(), "1 of 1 seeds failed")

	_, rep, err = m.Merge(reg.Snapshot(), []Proposal{
		proposal(2, "to speak", "hablar", atom("y", "to speak", "hablar")),
		proposal(2, "to speak", "hablar", atom("y", "to speak", "hablar")),
	})
	require.ErrorIs(t, err, ErrBatchRejected)
	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, "seed_order", rep.Failures[0].Kind)
}

func TestMergeRejectsRepeatWithinSeed(t *testing.T) {
	reg := lattice.NewRegistry(tokenize.Words{})
	m := NewMerger(tiling.Validator{})

	_, rep, err := m.Merge(reg.Snapshot(), []Proposal{
		proposal(1, "no no", "no no", atom("a", "no", "no"), atom("b", "no", "no")),
	})
	require.ErrorIs(t, err, ErrBatchRejected)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "repeated_in_seed", rep.Failures[0].Kind)
	assert.Equal(t, "S0001L02", rep.Failures[0].LegoID)

	seeds, rep, err := m.Merge(reg.Snapshot(), []Proposal{
		proposal(1, "no no", "no no", atom("a", "no no", "no no")),
		proposal(2, "no, I want", "no quiero", atom("b", "no", "no"), atom("c", "I want", "quiero")),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.NewLegos)
	_, err = reg.Append(seeds)
	require.NoError(t, err)

	seeds, _, err = m.Merge(reg.Snapshot(), []Proposal{
		proposal(3, "no, no, I want", "no no quiero", atom("a", "no", "no"), atom("b", "no", "no"), atom("c", "I want", "quiero")),
	})
	require.NoError(t, err, "repeats of a lego from an earlier seed are references")
	for _, l := range seeds[0].Legos {
		assert.Equal(t, lattice.Reference, l.Origin)
	}
	assert.Equal(t, "S0002L01", seeds[0].Legos[1].RefID)
}
