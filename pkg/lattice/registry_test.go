package lattice

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/coursegen/pkg/tokenize"
)

func sampleSeeds() []Seed {
	return []Seed{
		{
			ID: "S0001", Position: 1, Known: "I want to speak", Target: "quiero hablar",
			Legos: []Lego{
				{ID: "S0001L01", Kind: Atomic, Origin: New, Known: "I want", Target: "quiero"},
				{ID: "S0001L02", Kind: Atomic, Origin: New, Known: "to speak", Target: "hablar"},
			},
		},
		{
			ID: "S0002", Position: 2, Known: "I want to speak with you", Target: "quiero hablar contigo",
			Legos: []Lego{
				{ID: "S0002L01", Kind: Atomic, Origin: Reference, RefID: "S0001L01", Known: "I want", Target: "quiero"},
				{ID: "S0002L02", Kind: Atomic, Origin: Reference, RefID: "S0001L02", Known: "to speak", Target: "hablar"},
				{ID: "S0002L03", Kind: Atomic, Origin: New, Known: "with you", Target: "contigo"},
			},
		},
	}
}

func TestAppendBuildsOrderAndVocabulary(t *testing.T) {
	r := NewRegistry(tokenize.Words{})
	snap, err := r.Append(sampleSeeds())
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Version())
	assert.Equal(t, 5, snap.Len())
	assert.Equal(t, 2, snap.LastSeedPosition())

	i, ok := snap.IndexOf("S0002L03")
	require.True(t, ok)
	assert.Equal(t, 4, i)
	assert.Equal(t, Position{Seed: 2, Seq: 3}, snap.Lego(i).Pos)
	assert.True(t, snap.IsLastInSeed(i))
	assert.False(t, snap.IsLastInSeed(0))

	assert.True(t, snap.Available("quiero", 0))
	assert.False(t, snap.Available("hablar", 0))
	assert.True(t, snap.Available("hablar", 1))
	assert.False(t, snap.Available("contigo", 3))
	assert.True(t, snap.Available("contigo", 4))
	assert.Equal(t, []string{"contigo", "hablar", "quiero"}, snap.VocabularyAt(4))

	canon, ok := snap.Canonical("quiero")
	require.True(t, ok)
	assert.Equal(t, 0, canon)
}

func TestVocabularyIsMonotonic(t *testing.T) {
	r := NewRegistry(tokenize.Words{})
	snap, err := r.Append(sampleSeeds())
	require.NoError(t, err)
	for p := 0; p+1 < snap.Len(); p++ {
		cur := snap.VocabularyAt(p)
		next := snap.VocabularyAt(p + 1)
		assert.Subset(t, next, cur, "vocabulary at %d must contain vocabulary at %d", p+1, p)
		assert.LessOrEqual(t, snap.VocabularySize(p), snap.VocabularySize(p+1))
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	r := NewRegistry(tokenize.Words{})
	seeds := sampleSeeds()
	first, err := r.Append(seeds[:1])
	require.NoError(t, err)
	second, err := r.Append(seeds[1:])
	require.NoError(t, err)

	assert.Equal(t, 2, first.Len())
	assert.Equal(t, 5, second.Len())
	assert.False(t, first.Available("contigo", 1))
	assert.Same(t, second, r.Snapshot())
}

func TestAppendRejectsOutOfOrderSeed(t *testing.T) {
	r := NewRegistry(tokenize.Words{})
	second := Seed{
		ID: "S0002", Position: 2, Known: "with you", Target: "contigo",
		Legos: []Lego{{ID: "S0002L01", Kind: Atomic, Origin: New, Known: "with you", Target: "contigo"}},
	}
	_, err := r.Append([]Seed{second})
	require.NoError(t, err)
	_, err = r.Append(sampleSeeds()[:1])
	require.ErrorIs(t, err, ErrSeedOrder)
	assert.Equal(t, 1, r.Snapshot().Version(), "failed append must not publish")
}

func TestAppendRejectsBrokenLegos(t *testing.T) {
	cases := map[string]func(s []Seed){
		"duplicate new": func(s []Seed) {
			s[1].Legos[0].Origin = New
			s[1].Legos[0].RefID = ""
		},
		"dangling reference": func(s []Seed) { s[1].Legos[1].RefID = "S0009L01" },
		"reference to different text": func(s []Seed) {
			s[1].Legos[1].RefID = "S0001L01"
		},
		"reference within seed": func(s []Seed) {
			s[0].Legos[1] = Lego{ID: "S0001L02", Kind: Atomic, Origin: Reference, RefID: "S0001L01", Known: "I want", Target: "quiero"}
		},
		"wrong id":           func(s []Seed) { s[0].Legos[1].ID = "S0001L07" },
		"composite no parts": func(s []Seed) { s[0].Legos[0].Kind = Composite },
		"unknown feeder": func(s []Seed) {
			s[1].Legos[2].Kind = Composite
			s[1].Legos[2].Components = []Component{{Known: "with you", Target: "contigo", FeederID: "S0003L01"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			seeds := sampleSeeds()
			mutate(seeds)
			r := NewRegistry(tokenize.Words{})
			_, err := r.Append(seeds)
			require.ErrorIs(t, err, ErrInvalidLego)
			assert.Equal(t, 0, r.Snapshot().Len())
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	seeds := sampleSeeds()
	seeds[1].Legos[2] = Lego{
		ID: "S0002L03", Kind: Composite, Origin: New, Known: "with  you!", Target: "Contigo",
		Components: []Component{
			{Known: "with", Target: "con"},
			{Known: "you", Target: "tigo", FeederID: "S0001L02"},
		},
	}
	r, err := Load(tokenize.Words{}, seeds)
	require.NoError(t, err)

	var first bytes.Buffer
	require.NoError(t, Encode(&first, r.Snapshot()))
	assert.Contains(t, first.String(), `"feeder_id": null`)
	assert.Contains(t, first.String(), `"with  you!"`)

	decoded, err := Decode(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)
	r2, err := Load(tokenize.Words{}, decoded)
	require.NoError(t, err)

	var second bytes.Buffer
	require.NoError(t, Encode(&second, r2.Snapshot()))
	assert.Equal(t, first.String(), second.String())
}

func TestAppendWithPublishesOnlyAfterPersist(t *testing.T) {
	r := NewRegistry(tokenize.Words{})
	seeds := sampleSeeds()

	_, err := r.AppendWith(seeds[:1], func(next *Snapshot) error {
		assert.Equal(t, 2, next.Len())
		assert.Equal(t, 0, r.Snapshot().Len(), "readers must not see the batch yet")
		return errors.New("disk full")
	})
	require.EqualError(t, err, "disk full")
	assert.Equal(t, 0, r.Snapshot().Version())

	var seen int
	snap, err := r.AppendWith(seeds[:1], func(next *Snapshot) error {
		seen = next.Version()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
	assert.Same(t, snap, r.Snapshot())
}

func TestPositionLess(t *testing.T) {
	assert.True(t, Position{1, 5}.Less(Position{2, 1}))
	assert.True(t, Position{2, 1}.Less(Position{2, 2}))
	assert.False(t, Position{2, 2}.Less(Position{2, 2}))
	assert.Equal(t, "S0012L03", LegoID(SeedID(12), 3))
}
