package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Run executes one harness run with cfg.
//
// The returned Result is non-nil once setup succeeded, including when the
// run fails: the final counter is read and recorded for diagnosis even after
// a worker error. The error is nil only when Result.Pass is true.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.Must(uuid.NewV7()).String()
	}
	logger := cfg.Logger.With(
		"run_id", cfg.RunID,
		"backend", cfg.Store.Backend,
		"level", cfg.Level.String(),
	)
	cfg.Logger = logger

	coord, err := openCoordinator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := coord.Close(); err != nil {
			logger.Warn("failed to close coordinator store", "error", err)
		}
	}()

	result := &Result{
		RunID:      cfg.RunID,
		Backend:    cfg.Store.Backend,
		Level:      cfg.Level,
		Policy:     cfg.Policy,
		Mode:       cfg.Mode,
		Workers:    cfg.Workers,
		Iterations: cfg.Iterations,
		Expected:   cfg.Expected(),
		States:     make([]WorkerState, cfg.Workers),
	}

	logger.Info("starting run",
		"workers", cfg.Workers,
		"iterations", cfg.Iterations,
		"policy", cfg.Policy,
		"mode", cfg.Mode)

	start := cfg.Clock.Now()

	smp, stopSampler, err := startSampler(ctx, cfg, start)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range result.States {
		result.States[i].ID = i
		w := &worker{
			id:     i,
			cfg:    cfg,
			state:  &result.States[i],
			logger: logger.With("worker", i),
		}
		g.Go(func() error {
			return w.run(gctx)
		})
	}
	runErr := g.Wait()

	stopSampler()
	result.Elapsed = cfg.Clock.Now().Sub(start)
	result.tally()

	// The run context may be cancelled by now; the final read still has to
	// happen to report what was committed.
	final, err := coord.Read(context.WithoutCancel(ctx), cfg.Key)
	if err != nil {
		err = fmt.Errorf("failed to read final counter: %w", err)
		return fail(result, errors.Join(runErr, err))
	}
	result.Final = final

	if smp != nil {
		result.Samples = smp.samples
	}

	logger.Info("run finished",
		"final", result.Final,
		"expected", result.Expected,
		"took", result.Elapsed,
		"attempts", result.Attempts,
		"conflicts", result.Conflicts)

	if runErr != nil {
		logger.Error("run failed", "error", runErr)
		return fail(result, runErr)
	}
	var violation *MonotonicityViolation
	if smp != nil {
		violation = smp.violation
	}
	if err := verify(result, violation); err != nil {
		logger.Error("verification failed", "lost", result.Lost(), "error", err)
		return fail(result, err)
	}

	result.Pass = true
	return result, nil
}

// verify checks the final count and the sampled history. A short count is
// reported even when the counter also went backwards, joined with the
// violation.
func verify(result *Result, violation *MonotonicityViolation) error {
	var errs []error
	if violation != nil {
		errs = append(errs, violation)
	}
	if result.Final != result.Expected {
		errs = append(errs, &VerificationFailure{Expected: result.Expected, Actual: result.Final})
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

func fail(result *Result, err error) (*Result, error) {
	result.Pass = false
	result.Error = err.Error()
	return result, err
}

// startSampler launches the monotonicity sampler when enabled. The returned
// stop function blocks until the sampler goroutine has exited.
func startSampler(ctx context.Context, cfg Config, start time.Time) (*sampler, func(), error) {
	if cfg.SampleInterval <= 0 {
		return nil, func() {}, nil
	}
	st, err := cfg.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sampler store: %w", err)
	}

	smp := &sampler{
		store:    st,
		key:      cfg.Key,
		interval: cfg.SampleInterval,
		clock:    cfg.Clock,
		start:    start,
		logger:   cfg.Logger.With("component", "sampler"),
	}

	sctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		smp.run(sctx)
	}()

	return smp, func() {
		cancel()
		wg.Wait()
		if err := st.Close(); err != nil {
			smp.logger.Warn("failed to close sampler store", "error", err)
		}
	}, nil
}
