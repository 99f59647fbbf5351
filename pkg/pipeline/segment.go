package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/japaniel/coursegen/pkg/lattice"
	"github.com/japaniel/coursegen/pkg/merge"
)

// ErrNoProposal is returned by a ProposalSet asked for a seed it has no
// decomposition for.
var ErrNoProposal = errors.New("no proposal for seed")

// Segmenter decomposes one seed into proposed LEGOs. Implementations call out
// to the external segmentation step and must be safe for concurrent use.
type Segmenter interface {
	Segment(ctx context.Context, seed lattice.SeedInput) (merge.Proposal, error)
}

// SegmenterFunc adapts a function to Segmenter.
type SegmenterFunc func(ctx context.Context, seed lattice.SeedInput) (merge.Proposal, error)

func (f SegmenterFunc) Segment(ctx context.Context, seed lattice.SeedInput) (merge.Proposal, error) {
	return f(ctx, seed)
}

// ProposalSet is a Segmenter backed by proposals produced ahead of time,
// keyed by seed position.
type ProposalSet map[int]merge.Proposal

// Segment returns the stored proposal for seed.Position.
func (ps ProposalSet) Segment(_ context.Context, seed lattice.SeedInput) (merge.Proposal, error) {
	p, ok := ps[seed.Position]
	if !ok {
		return merge.Proposal{}, fmt.Errorf("%w: position %d", ErrNoProposal, seed.Position)
	}
	if p.Seed.Position == 0 {
		p.Seed = seed
	}
	return p, nil
}

// Seeds returns the seed inputs of the set in position order.
func (ps ProposalSet) Seeds() []lattice.SeedInput {
	out := make([]lattice.SeedInput, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Seed)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// ReadProposals decodes a JSON array of proposals. A later proposal for the
// same position replaces an earlier one.
func ReadProposals(r io.Reader) (ProposalSet, error) {
	var list []merge.Proposal
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode proposals: %w", err)
	}
	ps := make(ProposalSet, len(list))
	for i, p := range list {
		if p.Seed.Position < 1 {
			return nil, fmt.Errorf("proposal %d: seed position must be positive", i)
		}
		ps[p.Seed.Position] = p
	}
	return ps, nil
}

// LoadProposals reads proposals from a JSON file.
func LoadProposals(path string) (ProposalSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadProposals(f)
}

// SegmentResult is the outcome of segmenting one seed.
type SegmentResult struct {
	Position int            `json:"position"`
	Proposal merge.Proposal `json:"proposal"`
	Err      error          `json:"-"`
	Error    string         `json:"error,omitempty"`
}

// OK reports whether the seed produced a usable proposal.
func (r SegmentResult) OK() bool { return r.Err == nil }

func proposalsOf(results []SegmentResult) []merge.Proposal {
	var out []merge.Proposal
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Proposal)
		}
	}
	return out
}
