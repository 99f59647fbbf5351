package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/japaniel/coursegen/pkg/basket"
	"github.com/japaniel/coursegen/pkg/db"
	"github.com/japaniel/coursegen/pkg/gate"
	"github.com/japaniel/coursegen/pkg/lattice"
	"github.com/japaniel/coursegen/pkg/merge"
	"github.com/japaniel/coursegen/pkg/pipeline"
)

var errFailures = errors.New("completed with failures")

func newMergeCmd(g *globals) *cobra.Command {
	var proposalsPath string
	var isolate bool
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Validate worker proposals and commit them as one batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := pipeline.LoadProposals(proposalsPath)
			if err != nil {
				return err
			}
			e, err := setup(cmd, g, ps)
			if err != nil {
				return err
			}
			defer e.close()

			results, err := e.pipe.Segment(cmd.Context(), ps.Seeds())
			if err != nil {
				return err
			}
			var proposals []merge.Proposal
			var unsegmented []pipeline.SegmentResult
			for _, r := range results {
				if r.OK() {
					proposals = append(proposals, r.Proposal)
				} else {
					unsegmented = append(unsegmented, r)
				}
			}
			if len(unsegmented) > 0 && !isolate {
				summarizeSegments(e.err, results)
				_ = e.emit(map[string]any{"unsegmented": unsegmented})
				return fmt.Errorf("%d seeds do not tile: %w", len(unsegmented), errFailures)
			}

			var rep *merge.Report
			var dropped []int
			if isolate {
				for _, r := range unsegmented {
					dropped = append(dropped, r.Position)
				}
				iso, err := e.pipe.CommitIsolated(cmd.Context(), proposals)
				if iso != nil {
					rep = iso.Report
					dropped = append(dropped, iso.Dropped...)
					sort.Ints(dropped)
				}
				if err != nil {
					return err
				}
			} else {
				rep, err = e.pipe.Commit(cmd.Context(), proposals)
				if rep != nil {
					summarizeMerge(e.err, rep, nil)
					_ = e.emit(rep)
				}
				return err
			}
			summarizeMerge(e.err, rep, dropped)
			return e.emit(map[string]any{"report": rep, "dropped_positions": dropped, "unsegmented": unsegmented})
		},
	}
	cmd.Flags().StringVarP(&proposalsPath, "proposals", "p", "", "JSON array of segmentation proposals")
	cmd.Flags().BoolVar(&isolate, "isolate", false, "drop failing seeds and commit the rest")
	cmd.MarkFlagRequired("proposals")
	return cmd
}

func newValidateCmd(g *globals) *cobra.Command {
	var proposalsPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check proposals against the registry without committing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := pipeline.LoadProposals(proposalsPath)
			if err != nil {
				return err
			}
			e, err := setup(cmd, g, ps)
			if err != nil {
				return err
			}
			defer e.close()

			results, err := e.pipe.Segment(cmd.Context(), ps.Seeds())
			if err != nil {
				return err
			}
			summarizeSegments(e.err, results)
			var proposals []merge.Proposal
			failed := 0
			for _, r := range results {
				if r.OK() {
					proposals = append(proposals, r.Proposal)
				} else {
					failed++
				}
			}
			_, rep, mergeErr := e.pipe.Merger.Merge(e.pipe.Registry.Snapshot(), proposals)
			summarizeMerge(e.err, rep, nil)
			if err := e.emit(map[string]any{"segments": results, "merge": rep}); err != nil {
				return err
			}
			if failed > 0 || mergeErr != nil {
				return errFailures
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&proposalsPath, "proposals", "p", "", "JSON array of segmentation proposals")
	cmd.MarkFlagRequired("proposals")
	return cmd
}

func newRunCmd(g *globals) *cobra.Command {
	var seedsPath, proposalsPath string
	var isolate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Segment, commit, build baskets and report coverage in one go",
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := pipeline.LoadProposals(proposalsPath)
			if err != nil {
				return err
			}
			seeds := ps.Seeds()
			if seedsPath != "" {
				f, err := os.Open(seedsPath)
				if err != nil {
					return err
				}
				seeds, err = lattice.ReadSeedInputs(f)
				f.Close()
				if err != nil {
					return err
				}
			}
			e, err := setup(cmd, g, ps)
			if err != nil {
				return err
			}
			defer e.close()
			e.pipe.Isolate = isolate

			rr, err := e.pipe.Run(cmd.Context(), seeds)
			if rr != nil && rr.Merge != nil {
				summarizeMerge(e.err, rr.Merge, rr.Dropped)
			}
			if err != nil {
				return err
			}
			if rr.Coverage != nil {
				summarizeCoverage(e.err, rr.Coverage)
			}
			summarizeGaps(e.err, rr.Gaps)
			return e.emit(rr)
		},
	}
	cmd.Flags().StringVarP(&seedsPath, "seeds", "s", "", "JSON array of seed records (defaults to the seeds named by the proposals)")
	cmd.Flags().StringVarP(&proposalsPath, "proposals", "p", "", "JSON array of segmentation proposals")
	cmd.Flags().BoolVar(&isolate, "isolate", false, "drop failing seeds and commit the rest")
	cmd.MarkFlagRequired("proposals")
	return cmd
}

func newBasketsCmd(g *globals) *cobra.Command {
	var legoID string
	cmd := &cobra.Command{
		Use:   "baskets",
		Short: "Regenerate and store the practice basket of every LEGO",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, g, nil)
			if err != nil {
				return err
			}
			defer e.close()
			snap := e.pipe.Registry.Snapshot()

			if legoID != "" {
				gen, err := basket.NewGenerator(gate.NewChecker(snap, e.cfg.Gate), e.cfg.Basket)
				if err != nil {
					return err
				}
				b, err := gen.GenerateID(legoID)
				if err != nil {
					return err
				}
				return e.emit(b)
			}
			baskets, err := e.pipe.Baskets(cmd.Context(), snap)
			if err != nil {
				return err
			}
			summarizeBaskets(e.err, baskets)
			out := make(map[string]*basket.Basket, len(baskets))
			for _, b := range baskets {
				out[b.LegoID] = b
			}
			return e.emit(out)
		},
	}
	cmd.Flags().StringVar(&legoID, "lego", "", "print the basket of one LEGO without storing it")
	return cmd
}

func newConflictsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List known texts realized by more than one target",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, g, nil)
			if err != nil {
				return err
			}
			defer e.close()
			cs := e.pipe.Conflicts(e.pipe.Registry.Snapshot())
			summarizeConflicts(e.err, cs)
			return e.emit(cs)
		},
	}
}

// storedBaskets returns the stored baskets, generating them when none are
// stored yet.
func storedBaskets(cmd *cobra.Command, e *env) ([]*basket.Basket, error) {
	baskets, err := db.LoadBaskets(e.conn)
	if err != nil {
		return nil, err
	}
	if len(baskets) > 0 {
		return baskets, nil
	}
	return e.pipe.Baskets(cmd.Context(), e.pipe.Registry.Snapshot())
}

func newCoverageCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "coverage",
		Short: "Report LEGO co-occurrence density across baskets",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, g, nil)
			if err != nil {
				return err
			}
			defer e.close()
			baskets, err := storedBaskets(cmd, e)
			if err != nil {
				return err
			}
			rep := e.pipe.Coverage(e.pipe.Registry.Snapshot(), baskets)
			summarizeCoverage(e.err, rep)
			return e.emit(rep)
		},
	}
}

func newGapsCmd(g *globals) *cobra.Command {
	var total int
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "List missing seeds, LEGOs without baskets and misshapen baskets",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, g, nil)
			if err != nil {
				return err
			}
			defer e.close()
			if total > 0 {
				e.pipe.TotalSeeds = total
			}
			baskets, err := db.LoadBaskets(e.conn)
			if err != nil {
				return err
			}
			gaps := e.pipe.Gaps(e.pipe.Registry.Snapshot(), baskets)
			summarizeGaps(e.err, gaps)
			if err := e.emit(gaps); err != nil {
				return err
			}
			if !gaps.Empty() {
				return errFailures
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&total, "total", "n", 0, "expected number of seeds (overrides total_seeds)")
	return cmd
}

func newExportCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the committed registry in its persisted JSON form",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, g, nil)
			if err != nil {
				return err
			}
			defer e.close()
			return lattice.Encode(e.out, e.pipe.Registry.Snapshot())
		},
	}
}
