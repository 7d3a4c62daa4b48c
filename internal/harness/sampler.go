package harness

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/isoharness/internal/store"
)

// sampler reads the counter on a ticker while workers run.
type sampler struct {
	store    store.Store
	key      string
	interval time.Duration
	clock    Clock
	start    time.Time
	logger   *slog.Logger

	samples   []Sample
	violation *MonotonicityViolation
}

// run samples until ctx is done. It never returns an error: read failures
// are logged and skipped.
func (s *sampler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *sampler) sample(ctx context.Context) {
	v, err := s.store.Read(ctx, s.key)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("sample read failed", "error", err)
		}
		return
	}
	s.observe(Sample{Offset: s.clock.Now().Sub(s.start), Value: v})
}

// observe records one sample and remembers the first decrease.
func (s *sampler) observe(cur Sample) {
	if n := len(s.samples); n > 0 && s.violation == nil {
		if prev := s.samples[n-1]; cur.Value < prev.Value {
			s.violation = &MonotonicityViolation{Previous: prev, Current: cur}
			s.logger.Error("counter went backwards", "previous", prev.Value, "current", cur.Value)
		}
	}
	s.samples = append(s.samples, cur)
}
