package coverage

import (
	"github.com/japaniel/coursegen/pkg/basket"
	"github.com/japaniel/coursegen/pkg/lattice"
)

// Gaps lists what is missing for a complete course.
type Gaps struct {
	MissingSeeds   []int    `json:"missing_seeds"`
	MissingBaskets []string `json:"missing_baskets"`
	Misshapen      []string `json:"misshapen_baskets"`
}

// Empty reports whether nothing is missing.
func (g Gaps) Empty() bool {
	return len(g.MissingSeeds) == 0 && len(g.MissingBaskets) == 0 && len(g.Misshapen) == 0
}

// MissingSeeds returns the positions in 1..total with no committed seed.
func MissingSeeds(snap *lattice.Snapshot, total int) []int {
	out := []int{}
	for p := 1; p <= total; p++ {
		if _, ok := snap.Seed(p); !ok {
			out = append(out, p)
		}
	}
	return out
}

// MissingBaskets returns the ids of committed LEGOs with no basket.
func MissingBaskets(snap *lattice.Snapshot, baskets []*basket.Basket) []string {
	have := make(map[string]bool, len(baskets))
	for _, b := range baskets {
		have[b.LegoID] = true
	}
	out := []string{}
	for i := 0; i < snap.Len(); i++ {
		if id := snap.Lego(i).ID; !have[id] {
			out = append(out, id)
		}
	}
	return out
}

// Misshapen returns the ids of baskets whose phrase count or bucket
// distribution differs from cfg.
func Misshapen(baskets []*basket.Basket, cfg basket.Config) []string {
	out := []string{}
	for _, b := range baskets {
		if !shaped(b, cfg) {
			out = append(out, b.LegoID)
		}
	}
	return out
}

func shaped(b *basket.Basket, cfg basket.Config) bool {
	if len(b.Phrases) != cfg.Size || len(b.Distribution) != len(cfg.Buckets) {
		return false
	}
	for k, bk := range cfg.Buckets {
		d := b.Distribution[k]
		if d.Name != bk.Name || d.Quota != bk.Quota || d.Filled+d.Padded != bk.Quota {
			return false
		}
	}
	return true
}

// Check runs every gap check.
func Check(snap *lattice.Snapshot, baskets []*basket.Basket, total int, cfg basket.Config) Gaps {
	return Gaps{
		MissingSeeds:   MissingSeeds(snap, total),
		MissingBaskets: MissingBaskets(snap, baskets),
		Misshapen:      Misshapen(baskets, cfg),
	}
}
