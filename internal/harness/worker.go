package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/isoharness/internal/store"
)

// worker performs cfg.Iterations increments over its own store connection.
type worker struct {
	id     int
	cfg    Config
	state  *WorkerState
	logger *slog.Logger
}

func (w *worker) run(ctx context.Context) error {
	s, err := w.cfg.OpenStore(ctx, w.cfg.Store)
	if err != nil {
		return &WorkerError{Worker: w.id, Err: err}
	}
	defer func() {
		if err := s.Close(); err != nil {
			w.logger.Warn("failed to close store", "error", err)
		}
	}()

	r := &retrier{policy: w.cfg.Policy, cfg: w.cfg.Retry, logger: w.logger}
	body := incrementBody(w.cfg.Mode, w.cfg.Key)
	tx := func(ctx context.Context) error {
		return s.RunTransaction(ctx, w.cfg.Level, body)
	}

	for i := 1; i <= w.cfg.Iterations; i++ {
		stats, err := r.do(ctx, tx)
		w.state.Attempts += stats.attempts
		w.state.Conflicts += stats.conflicts
		w.state.Errors += stats.errors
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Another worker failed or the run was interrupted.
				return err
			}
			return &WorkerError{Worker: w.id, Iteration: i, Attempts: int(stats.attempts), Err: err}
		}
		w.state.Completed++
	}

	w.logger.Debug("worker done",
		"completed", w.state.Completed,
		"attempts", w.state.Attempts,
		"conflicts", w.state.Conflicts)
	return nil
}

// openCoordinator opens the store used for setup and the final read.
func openCoordinator(ctx context.Context, cfg Config) (store.Store, error) {
	s, err := cfg.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open coordinator store: %w", err)
	}
	if cfg.Provision {
		if err := s.Provision(ctx, cfg.Key); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to provision counter %q: %w", cfg.Key, err)
		}
	}
	if err := s.Reset(ctx, cfg.Key, 0); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to reset counter %q: %w", cfg.Key, err)
	}
	return s, nil
}
