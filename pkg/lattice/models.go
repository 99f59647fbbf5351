package lattice

import (
	"encoding/json"
	"fmt"
)

// Kind distinguishes single-chunk LEGOs from ones built out of components.
type Kind string

const (
	Atomic    Kind = "atomic"
	Composite Kind = "composite"
)

// Origin records whether a LEGO introduces its target text or reuses one.
type Origin string

const (
	New       Origin = "new"
	Reference Origin = "reference"
)

// Position orders LEGOs across the whole corpus: seed position first, then
// the local sequence number within the seed.
type Position struct {
	Seed int
	Seq  int
}

// Less reports whether p comes strictly before q.
func (p Position) Less(q Position) bool {
	if p.Seed != q.Seed {
		return p.Seed < q.Seed
	}
	return p.Seq < q.Seq
}

// Component is one named piece of a composite LEGO. FeederID is empty for a
// literal fragment and otherwise names the LEGO the fragment reuses.
type Component struct {
	Known    string
	Target   string
	FeederID string
}

type componentJSON struct {
	Known    string  `json:"known_fragment"`
	Target   string  `json:"target_fragment"`
	FeederID *string `json:"feeder_id"`
}

// MarshalJSON writes an empty feeder as null.
func (c Component) MarshalJSON() ([]byte, error) {
	out := componentJSON{Known: c.Known, Target: c.Target}
	if c.FeederID != "" {
		id := c.FeederID
		out.FeederID = &id
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Component) UnmarshalJSON(b []byte) error {
	var in componentJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	c.Known, c.Target, c.FeederID = in.Known, in.Target, ""
	if in.FeederID != nil {
		c.FeederID = *in.FeederID
	}
	return nil
}

// Lego is the atomic unit of reuse.
type Lego struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Origin Origin `json:"origin"`
	Known  string `json:"known_text"`
	Target string `json:"target_text"`
	// RefID names the new LEGO a reference LEGO reuses.
	RefID      string      `json:"ref_id,omitempty"`
	Components []Component `json:"components,omitempty"`

	Pos Position `json:"-"`
}

// Seed is one bilingual sentence pair with its ordered LEGOs.
type Seed struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Known    string `json:"known_text"`
	Target   string `json:"target_text"`
	Legos    []Lego `json:"legos"`
}

// SeedInput is a seed as produced by the external translation step.
type SeedInput struct {
	Position int    `json:"position" validate:"min=1"`
	Known    string `json:"known_text" validate:"required"`
	Target   string `json:"target_text" validate:"required"`
}

// SeedID returns the stable identifier for a seed position.
func SeedID(position int) string {
	return fmt.Sprintf("S%04d", position)
}

// LegoID returns the identifier of the seq-th (1-based) LEGO of a seed.
func LegoID(seedID string, seq int) string {
	return fmt.Sprintf("%sL%02d", seedID, seq)
}

// Pair is a known/target text pair.
type Pair struct {
	Known  string `json:"known"`
	Target string `json:"target"`
}
