// Package pipeline drives a course build: segmentation fans out over a worker
// pool, merge batches are committed by a single writer, and baskets are
// generated in parallel against the committed snapshot.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/japaniel/coursegen/pkg/basket"
	"github.com/japaniel/coursegen/pkg/config"
	"github.com/japaniel/coursegen/pkg/conflict"
	"github.com/japaniel/coursegen/pkg/coverage"
	"github.com/japaniel/coursegen/pkg/db"
	"github.com/japaniel/coursegen/pkg/gate"
	"github.com/japaniel/coursegen/pkg/lattice"
	"github.com/japaniel/coursegen/pkg/merge"
	"github.com/japaniel/coursegen/pkg/metrics"
	"github.com/japaniel/coursegen/pkg/tiling"
	"github.com/japaniel/coursegen/pkg/tokenize"
)

var (
	// ErrNoSegmenter is returned by Segment when no Segmenter is configured.
	ErrNoSegmenter = errors.New("no segmenter configured")
	errNotRun      = errors.New("segmentation did not run")
)

var validate = validator.New()

// Pipeline wires the engine packages to storage. DB may be nil, in which case
// commits and baskets live only in memory.
type Pipeline struct {
	Registry  *lattice.Registry
	DB        *sql.DB
	Merger    *merge.Merger
	Segmenter Segmenter
	Validator tiling.Validator

	Gate         gate.Rules
	Basket       basket.Config
	Conflict     conflict.Rules
	CoverageOpts coverage.Options

	Workers    int
	TotalSeeds int
	// Isolate makes Run drop failed seeds from a rejected batch and re-merge
	// the rest instead of failing.
	Isolate bool
	// BasketBatch is how many baskets the batch writer commits per transaction.
	BasketBatch int

	Metrics *metrics.Collector
	Logger  zerolog.Logger

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers, queue int) WorkerPoolInterface

	commitMu sync.Mutex
}

// New builds a pipeline from cfg around an existing registry.
func New(cfg *config.Config, reg *lattice.Registry, conn *sql.DB, seg Segmenter) *Pipeline {
	v := cfg.Validator()
	m := merge.NewMerger(v)
	return &Pipeline{
		Registry:     reg,
		DB:           conn,
		Merger:       m,
		Segmenter:    seg,
		Validator:    v,
		Gate:         cfg.Gate,
		Basket:       cfg.Basket,
		Conflict:     cfg.Conflict,
		CoverageOpts: cfg.Coverage,
		Workers:      cfg.Workers,
		TotalSeeds:   cfg.TotalSeeds,
		BasketBatch:  32,
		Logger:       zerolog.Nop(),
	}
}

// SetLogger routes the logs of the pipeline and its merger to l.
func (p *Pipeline) SetLogger(l zerolog.Logger) {
	p.Logger = l
	if p.Merger != nil {
		p.Merger.Logger = l
	}
}

// LoadRegistry rebuilds the registry from every batch persisted in conn.
func LoadRegistry(conn *sql.DB, tok tokenize.Tokenizer) (*lattice.Registry, error) {
	seeds, err := db.LoadSeeds(conn)
	if err != nil {
		return nil, fmt.Errorf("load seeds: %w", err)
	}
	reg, err := lattice.Load(tok, seeds)
	if err != nil {
		return nil, fmt.Errorf("rebuild registry: %w", err)
	}
	return reg, nil
}

func (p *Pipeline) workers() int {
	if p.Workers < 1 {
		return 1
	}
	return p.Workers
}

// Segment runs the Segmenter over seeds on the worker pool and returns one
// result per seed in position order. A failing seed does not stop its
// siblings; its result carries the error. Proposals that do not tile their
// seed are reported here, before any merge.
func (p *Pipeline) Segment(ctx context.Context, seeds []lattice.SeedInput) ([]SegmentResult, error) {
	if p.Segmenter == nil {
		return nil, ErrNoSegmenter
	}
	results := make([]SegmentResult, len(seeds))
	for i, s := range seeds {
		results[i] = SegmentResult{Position: s.Position, Err: errNotRun}
	}

	n := p.workers()
	var wp WorkerPoolInterface
	if p.PoolFactory != nil {
		wp = p.PoolFactory(n, n*2)
	} else {
		wp = NewWorkerPool(n, n*2)
	}
	wp.Start(ctx)

	var submitErr error
	for i := range seeds {
		err := wp.SubmitCtx(ctx, func(ctx context.Context) error {
			results[i] = p.segmentOne(ctx, seeds[i])
			return results[i].Err
		})
		if err != nil {
			submitErr = err
			for j := i; j < len(seeds); j++ {
				results[j].Err = fmt.Errorf("submit seed %d: %w", seeds[j].Position, err)
			}
			break
		}
	}
	wp.Close()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Position < results[j].Position })
	failed := 0
	for i := range results {
		if results[i].Err != nil {
			results[i].Error = results[i].Err.Error()
			failed++
		}
	}
	p.Logger.Info().Int("seeds", len(seeds)).Int("failed", failed).Msg("segmentation finished")
	if err := ctx.Err(); err != nil {
		return results, err
	}
	if submitErr != nil {
		return results, fmt.Errorf("segment: %w", submitErr)
	}
	return results, nil
}

func (p *Pipeline) segmentOne(ctx context.Context, seed lattice.SeedInput) SegmentResult {
	res := SegmentResult{Position: seed.Position}
	if err := validate.Struct(seed); err != nil {
		res.Err = fmt.Errorf("seed %d: %w", seed.Position, err)
		p.Metrics.Segmented("error")
		return res
	}
	prop, err := p.Segmenter.Segment(ctx, seed)
	if err != nil {
		res.Err = fmt.Errorf("segment seed %d: %w", seed.Position, err)
		p.Metrics.Segmented("error")
		p.Logger.Warn().Int("position", seed.Position).Err(err).Msg("segmentation failed")
		return res
	}
	prop.Seed = seed
	res.Proposal = prop
	if err := p.Validator.Validate(lattice.SeedID(seed.Position), seed.Target, prop.Targets()); err != nil {
		res.Err = err
		p.Metrics.Segmented("tiling")
		p.Logger.Warn().Str("seed_id", lattice.SeedID(seed.Position)).Err(err).Msg("proposal does not tile seed")
		return res
	}
	p.Metrics.Segmented("ok")
	return res
}

// Commit merges proposals against the current snapshot and, if the batch is
// accepted, persists it in one transaction before publishing the new
// snapshot. Commits are serialized; readers never see a batch that failed to
// persist.
func (p *Pipeline) Commit(ctx context.Context, proposals []merge.Proposal) (*merge.Report, error) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seeds, rep, err := p.Merger.Merge(p.Registry.Snapshot(), proposals)
	if err != nil {
		p.Metrics.Batch(false, 0, 0)
		return rep, err
	}
	if len(seeds) == 0 {
		return rep, nil
	}
	next, err := p.Registry.AppendWith(seeds, func(next *lattice.Snapshot) error {
		return p.persist(ctx, rep, next, seeds)
	})
	if err != nil {
		p.Metrics.Batch(false, 0, 0)
		return rep, fmt.Errorf("commit batch %s: %w", rep.BatchID, err)
	}
	rep.Committed = true
	p.Metrics.Batch(true, rep.NewLegos, rep.References)
	p.Logger.Info().Str("batch_id", rep.BatchID).Int("version", next.Version()).Int("seeds", len(seeds)).Msg("batch committed")
	return rep, nil
}

func (p *Pipeline) persist(ctx context.Context, rep *merge.Report, next *lattice.Snapshot, seeds []lattice.Seed) error {
	if p.DB == nil {
		return nil
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	b := db.Batch{
		ID:         rep.BatchID,
		Version:    next.Version(),
		Seeds:      len(seeds),
		NewLegos:   rep.NewLegos,
		References: rep.References,
	}
	if err := db.SaveBatch(tx, b, seeds); err != nil {
		return err
	}
	if err := db.ClearBaskets(tx); err != nil {
		return fmt.Errorf("clear stale baskets: %w", err)
	}
	return tx.Commit()
}

// Isolation is the outcome of CommitIsolated.
type Isolation struct {
	Report   *merge.Report   `json:"report"`
	Dropped  []int           `json:"dropped_positions,omitempty"`
	Failures []merge.Failure `json:"failures,omitempty"`
	Attempts int             `json:"attempts"`
}

// CommitIsolated commits proposals, dropping the seeds that fail and
// re-merging the rest until a batch commits or nothing is left.
func (p *Pipeline) CommitIsolated(ctx context.Context, proposals []merge.Proposal) (*Isolation, error) {
	out := &Isolation{}
	remaining := append([]merge.Proposal(nil), proposals...)
	for len(remaining) > 0 {
		out.Attempts++
		rep, err := p.Commit(ctx, remaining)
		out.Report = rep
		if err == nil {
			return out, nil
		}
		if rep == nil || !errors.Is(err, merge.ErrBatchRejected) {
			return out, err
		}
		failed := rep.FailedPositions()
		if len(failed) == 0 {
			return out, err
		}
		drop := map[int]bool{}
		for _, pos := range failed {
			drop[pos] = true
		}
		out.Dropped = append(out.Dropped, failed...)
		out.Failures = append(out.Failures, rep.Failures...)
		kept := remaining[:0]
		for _, pr := range remaining {
			if !drop[pr.Seed.Position] {
				kept = append(kept, pr)
			}
		}
		remaining = kept
		p.Logger.Warn().Ints("dropped", failed).Int("remaining", len(remaining)).Msg("retrying batch without failed seeds")
	}
	return out, nil
}

// Baskets generates the basket of every LEGO in snap, in registry order.
// With a DB they are also stored, a transaction per BasketBatch baskets.
func (p *Pipeline) Baskets(ctx context.Context, snap *lattice.Snapshot) ([]*basket.Basket, error) {
	gen, err := basket.NewGenerator(gate.NewChecker(snap, p.Gate), p.Basket)
	if err != nil {
		return nil, err
	}
	gen.Logger = p.Logger

	var bw *BatchWriter
	if p.DB != nil {
		bw = NewBatchWriter(p.DB, p.BasketBatch, 0)
		bw.Logger = p.Logger
	}

	out := make([]*basket.Basket, snap.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i := 0; i < snap.Len(); i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := gen.Generate(i)
			if err != nil {
				return err
			}
			out[i] = b
			padded := 0
			for _, d := range b.Distribution {
				padded += d.Padded
			}
			p.Metrics.Basket(padded, b.Rejected)
			if bw == nil {
				return nil
			}
			return bw.Submit(func(_ context.Context, tx *sql.Tx) error {
				return db.SaveBasket(tx, snap.Version(), b)
			})
		})
	}
	err = g.Wait()
	if bw != nil {
		if cerr := bw.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("store baskets: %w", cerr)
		}
	}
	if err != nil {
		return nil, err
	}
	p.Logger.Info().Int("baskets", len(out)).Int("version", snap.Version()).Msg("baskets generated")
	return out, nil
}

// Conflicts reports the conflicts among the new LEGOs of snap.
func (p *Pipeline) Conflicts(snap *lattice.Snapshot) []conflict.Conflict {
	r := conflict.NewReconciler(p.Conflict)
	r.Logger = p.Logger
	cs := r.Reconcile(snap)
	for _, c := range cs {
		p.Metrics.Conflict(string(c.Type))
	}
	return cs
}

// Coverage analyzes baskets against the canonical LEGOs of snap.
func (p *Pipeline) Coverage(snap *lattice.Snapshot, baskets []*basket.Basket) *coverage.Report {
	a := coverage.NewAnalyzer(snap, p.CoverageOpts)
	a.Logger = p.Logger
	return a.Analyze(baskets)
}

// Gaps lists missing seeds, LEGOs without baskets and misshapen baskets.
func (p *Pipeline) Gaps(snap *lattice.Snapshot, baskets []*basket.Basket) coverage.Gaps {
	return coverage.Check(snap, baskets, p.TotalSeeds, p.Basket)
}

// RunReport summarizes one Run.
type RunReport struct {
	Segmented   int                 `json:"segmented"`
	Unsegmented []SegmentResult     `json:"unsegmented,omitempty"`
	Merge       *merge.Report       `json:"merge,omitempty"`
	Dropped     []int               `json:"dropped_positions,omitempty"`
	Version     int                 `json:"version"`
	Baskets     int                 `json:"baskets"`
	Underfilled []string            `json:"underfilled,omitempty"`
	Conflicts   []conflict.Conflict `json:"conflicts"`
	Coverage    *coverage.Report    `json:"coverage,omitempty"`
	Gaps        coverage.Gaps       `json:"gaps"`
}

// Run segments seeds, commits them as one batch, regenerates every basket and
// analyzes the result. Unless Isolate is set, a seed that does not tile
// refuses the whole batch and nothing is committed.
func (p *Pipeline) Run(ctx context.Context, seeds []lattice.SeedInput) (*RunReport, error) {
	rr := &RunReport{}
	results, err := p.Segment(ctx, seeds)
	if err != nil {
		return rr, err
	}
	for _, r := range results {
		if r.OK() {
			rr.Segmented++
		} else {
			rr.Unsegmented = append(rr.Unsegmented, r)
		}
	}
	if len(rr.Unsegmented) > 0 && !p.Isolate {
		p.Metrics.Batch(false, 0, 0)
		return rr, fmt.Errorf("%w: %d of %d seeds do not tile", merge.ErrBatchRejected, len(rr.Unsegmented), len(results))
	}
	proposals := proposalsOf(results)
	if p.Isolate {
		for _, r := range rr.Unsegmented {
			rr.Dropped = append(rr.Dropped, r.Position)
		}
		iso, err := p.CommitIsolated(ctx, proposals)
		rr.Merge = iso.Report
		rr.Dropped = append(rr.Dropped, iso.Dropped...)
		sort.Ints(rr.Dropped)
		if err != nil {
			return rr, err
		}
	} else {
		rep, err := p.Commit(ctx, proposals)
		rr.Merge = rep
		if err != nil {
			return rr, err
		}
	}

	snap := p.Registry.Snapshot()
	rr.Version = snap.Version()
	baskets, err := p.Baskets(ctx, snap)
	if err != nil {
		return rr, err
	}
	rr.Baskets = len(baskets)
	for _, b := range baskets {
		if b.Err() != nil {
			rr.Underfilled = append(rr.Underfilled, b.LegoID)
		}
	}
	rr.Conflicts = p.Conflicts(snap)
	rr.Coverage = p.Coverage(snap, baskets)
	rr.Gaps = p.Gaps(snap, baskets)
	return rr, nil
}
