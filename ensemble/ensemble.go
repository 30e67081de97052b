// Package ensemble runs seed-varied batches of one run configuration. Every
// member gets its own grid, fieldset, clock and component pipeline, so
// members share nothing and can run concurrently; the only coupling is the
// bounded worker pool.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/orogenlabs/terramorph/config"
	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
	"github.com/orogenlabs/terramorph/internal/logging"
)

// RunResult summarises one ensemble member. Failures are carried here rather
// than aborting the batch; one unstable member must not cancel its siblings.
type RunResult struct {
	Member        int
	RunID         string
	Seed          uint64
	Iterations    int
	Retries       int
	Emissions     int
	FinalTime     float64
	MeanElevation float64
	Elapsed       time.Duration
	Err           error
}

type options struct {
	jobs     int
	seedBase uint64
	haveSeed bool
	log      logging.Logger
}

// Option customises a batch.
type Option func(*options)

// WithJobs bounds how many members run concurrently. Defaults to GOMAXPROCS.
func WithJobs(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.jobs = n
		}
	}
}

// WithSeedBase sets the first member's seed; member i runs with seedBase+i.
// Without it the base configuration's grid seed anchors the sequence.
func WithSeedBase(seed uint64) Option {
	return func(o *options) {
		o.seedBase = seed
		o.haveSeed = true
	}
}

// WithLogger attaches a structured logger to the batch and its members.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Run executes n members of the base configuration concurrently and returns
// one result per member, ordered by member index. The returned error is nil
// only when every member finished; per-member failures stay in their result.
func Run(ctx context.Context, base *config.Config, n int, opts ...Option) ([]RunResult, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: nil configuration", core.ErrInvalidParameter)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: ensemble size %d must be positive", core.ErrInvalidParameter, n)
	}
	o := options{
		jobs:     runtime.GOMAXPROCS(0),
		seedBase: base.Grid.RandomSeed,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	o.log.Info(ctx, "ensemble starting",
		logging.Int("members", n),
		logging.Int("jobs", o.jobs),
		logging.Any("seed_base", o.seedBase),
	)

	results := make([]RunResult, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.jobs)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			results[i] = runMember(gctx, base, i, o)
			return nil
		})
	}
	_ = g.Wait() // member errors live in their results

	failed := 0
	for i := range results {
		if results[i].Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("%d of %d ensemble members failed", failed, n)
	}
	return results, nil
}

// memberConfig derives member i's configuration: a fresh run id, the member
// seed on the grid noise, and the same seed on whatever components draw
// random numbers.
func memberConfig(base *config.Config, member int, seed uint64) *config.Config {
	cfg := base.Clone()
	label := cfg.RunID
	if label == "" {
		label = "member"
	}
	cfg.RunID = fmt.Sprintf("%s-%03d", label, member)
	cfg.Grid.RandomSeed = seed
	if cfg.Parameters != nil {
		cfg.Parameters["seed"] = seed
	}
	for _, comp := range cfg.Components {
		if _, ok := comp.Params["seed"]; ok {
			comp.Params["seed"] = seed
		}
	}
	return cfg
}

func runMember(ctx context.Context, base *config.Config, member int, o options) (res RunResult) {
	seed := o.seedBase + uint64(member)
	cfg := memberConfig(base, member, seed)
	res = RunResult{Member: member, RunID: cfg.RunID, Seed: seed}

	started := time.Now()
	defer func() { res.Elapsed = time.Since(started) }()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	run, err := config.Assemble(cfg, config.WithLogger(o.log))
	if err != nil {
		res.Err = fmt.Errorf("assemble member %d: %w", member, err)
		return res
	}
	if err := run.Model.Validate(); err != nil {
		res.Err = fmt.Errorf("validate member %d: %w", member, err)
		return res
	}
	err = run.Model.Run(ctx)

	res.Iterations = run.Model.Iterations()
	res.Retries = run.Model.Retries()
	res.FinalTime = run.Clock.Now()
	if run.Output != nil {
		res.Emissions = run.Output.Emissions()
	}
	res.MeanElevation = meanElevation(run.Grid, run.Fields)
	if err != nil {
		res.Err = fmt.Errorf("member %d: %w", member, err)
		return res
	}

	o.log.Info(ctx, "ensemble member finished",
		logging.Int("member", member),
		logging.String("run_id", res.RunID),
		logging.Int("iterations", res.Iterations),
		logging.Any("mean_elevation", res.MeanElevation),
		logging.String("wall_time", res.Elapsed.String()),
	)
	return res
}

func meanElevation(g *grid.RasterGrid, fs *grid.FieldSet) float64 {
	z, err := fs.Field(grid.FieldTopographicElevation)
	if err != nil || len(z) == 0 {
		return math.NaN()
	}
	sum, n := 0.0, 0
	for id := 0; id < g.NodeCount(); id++ {
		if g.IsCore(id) {
			sum += z[id]
			n++
		}
	}
	if n == 0 {
		return floats.Sum(z) / float64(len(z))
	}
	return sum / float64(n)
}
