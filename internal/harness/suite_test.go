package harness

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/isoharness/internal/isolation"
	"github.com/roach88/isoharness/internal/store"
)

func TestLoadSuite(t *testing.T) {
	s, err := LoadSuite(filepath.Join("testdata", "suites", "memory.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "memory-matrix", s.Name)
	assert.Equal(t, 4, s.Defaults.Workers)
	assert.Equal(t, 25, s.Defaults.Iterations)
	require.NotNil(t, s.Defaults.Provision)
	assert.True(t, *s.Defaults.Provision)
	require.Len(t, s.Runs, 3)
	assert.Equal(t, ExpectPass, s.Runs[0].Expect, "expect defaults to pass")
	assert.Equal(t, "read-modify-write", s.Runs[1].Mode)
	assert.Equal(t, ExpectAny, s.Runs[2].Expect)
}

func TestLoadSuite_MissingFile(t *testing.T) {
	_, err := LoadSuite(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read suite file")
}

func TestParseSuite_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty document", ``},
		{"missing name", `
runs:
  - {name: a, backend: memory, levels: [rc]}
`},
		{"no runs", `
name: s
runs: []
`},
		{"unknown backend", `
name: s
runs:
  - {name: a, backend: oracle, levels: [rc]}
`},
		{"empty levels", `
name: s
runs:
  - {name: a, backend: memory, levels: []}
`},
		{"bad expectation", `
name: s
runs:
  - {name: a, backend: memory, levels: [rc], expect: maybe}
`},
		{"unknown field", `
name: s
runs:
  - {name: a, backend: memory, levels: [rc], threads: 4}
`},
		{"zero workers", `
name: s
defaults: {workers: 0}
runs:
  - {name: a, backend: memory, levels: [rc]}
`},
		{"bad policy", `
name: s
runs:
  - {name: a, backend: memory, levels: [rc], policy: sloppy}
`},
		{"bad table", `
name: s
runs:
  - {name: a, backend: sqlite, dsn: x.db, levels: [rc], table: "drop table"}
`},
		{"bad sample interval", `
name: s
runs:
  - {name: a, backend: memory, levels: [rc], sample_interval: soon}
`},
		{"sample interval without unit", `
name: s
runs:
  - {name: a, backend: memory, levels: [rc], sample_interval: "1.5"}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid suite")
		})
	}
}

func TestParseSuite_InvalidYAML(t *testing.T) {
	_, err := ParseSuite([]byte("name: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestSuite_Plan(t *testing.T) {
	s, err := ParseSuite([]byte(`
name: plan
defaults:
  workers: 3
  iterations: 7
  policy: lenient
  max_attempts: 9
runs:
  - name: lite
    backend: sqlite
    dsn: /tmp/plan.db
    levels: [read-committed, serializable]
    workers: 2
    backoff: true
    sample_interval: 5ms
  - name: mem
    backend: memory
    levels: [ru]
    mode: rmw
    provision: true
    max_attempts: 0
    expect: lost-updates
`))
	require.NoError(t, err)

	base := Config{Key: "XYZ", Logger: discardLogger()}
	plan, err := s.Plan(base)
	require.NoError(t, err)
	require.Len(t, plan, 3)

	lite := plan[0]
	assert.Equal(t, "lite", lite.Run)
	assert.Equal(t, isolation.ReadCommitted, lite.Level)
	assert.Equal(t, ExpectPass, lite.Expect)
	assert.Equal(t, store.Config{Backend: "sqlite", DSN: "/tmp/plan.db"}, lite.Config.Store)
	assert.Equal(t, 2, lite.Config.Workers, "run overrides defaults")
	assert.Equal(t, 7, lite.Config.Iterations)
	assert.Equal(t, PolicyLenient, lite.Config.Policy)
	assert.Equal(t, 9, lite.Config.Retry.MaxAttempts)
	assert.True(t, lite.Config.Retry.Backoff)
	assert.Equal(t, 5*time.Millisecond, lite.Config.SampleInterval)
	assert.Equal(t, "XYZ", lite.Config.Key, "base config is the lowest layer")
	assert.Equal(t, isolation.Serializable, plan[1].Level)

	mem := plan[2]
	assert.Equal(t, isolation.ReadUncommitted, mem.Level)
	assert.Equal(t, "mem", mem.Config.Store.DSN, "memory dsn defaults to the run name")
	assert.Equal(t, ModeReadModifyWrite, mem.Config.Mode)
	assert.Equal(t, 3, mem.Config.Workers)
	assert.Equal(t, 0, mem.Config.Retry.MaxAttempts, "explicit zero overrides defaults")
	assert.True(t, mem.Config.Provision)
	assert.Equal(t, ExpectLostUpdates, mem.Expect)
}

func TestSuite_PlanSampleIntervals(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"250us", 250 * time.Microsecond},
		{"1.5ms", 1500 * time.Microsecond},
		{"1m30s", 90 * time.Second},
		{"2h0.5m", 2*time.Hour + 30*time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			s, err := ParseSuite([]byte(`
name: s
runs:
  - {name: a, backend: memory, levels: [rc], sample_interval: "` + tt.raw + `"}
`))
			require.NoError(t, err)

			plan, err := s.Plan(Config{})
			require.NoError(t, err)
			require.Len(t, plan, 1)
			assert.Equal(t, tt.want, plan[0].Config.SampleInterval)
		})
	}
}

func TestSuite_PlanRejectsUnknownLevel(t *testing.T) {
	s, err := ParseSuite([]byte(`
name: s
runs:
  - {name: a, backend: memory, levels: [snapshot]}
`))
	require.NoError(t, err)

	_, err = s.Plan(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `run "a"`)
	assert.Contains(t, err.Error(), "unknown isolation level")
}

func TestRunSuite(t *testing.T) {
	s, err := LoadSuite(filepath.Join("testdata", "suites", "memory.yaml"))
	require.NoError(t, err)

	res, err := RunSuite(context.Background(), s, Config{Logger: discardLogger()})
	require.NoError(t, err)
	assert.Equal(t, "memory-matrix", res.Name)
	require.Len(t, res.Outcomes, 6)
	assert.True(t, res.Pass(), "unexpected outcomes: %+v", res.Outcomes)

	for _, o := range res.Outcomes[:5] {
		assert.True(t, o.Met, "%s at %s", o.Run, o.Level)
		assert.Equal(t, int64(100), o.Result.Final, "%s at %s", o.Run, o.Level)
		assert.NotEmpty(t, o.Result.RunID)
	}

	rmw := res.Outcomes[5]
	assert.Equal(t, isolation.ReadCommitted, rmw.Level)
	assert.LessOrEqual(t, rmw.Result.Final, rmw.Result.Expected)
}

func TestRunSuite_LostUpdatesWithSampler(t *testing.T) {
	s, err := ParseSuite([]byte(`
name: sampled-rmw
runs:
  - name: rmw-committed
    backend: memory
    dsn: sampled-rmw-committed?latency=100us
    provision: true
    mode: rmw
    workers: 5
    iterations: 20
    sample_interval: 100us
    levels: [read-committed]
    expect: lost-updates
`))
	require.NoError(t, err)

	res, err := RunSuite(context.Background(), s, Config{Logger: discardLogger()})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)

	o := res.Outcomes[0]
	require.NotNil(t, o.Result)
	assert.LessOrEqual(t, o.Result.Final, o.Result.Expected)
	// Interleaving decides whether updates are lost; whenever they are,
	// the expectation must hold even if the sampler also saw a decrease.
	assert.Equal(t, o.Result.Final < o.Result.Expected, o.Met, "result error: %s", o.Result.Error)
}

func TestRunSuite_RecordsSetupFailures(t *testing.T) {
	s, err := ParseSuite([]byte(`
name: broken
runs:
  - name: missing-row
    backend: memory
    levels: [serializable]
`))
	require.NoError(t, err)

	res, err := RunSuite(context.Background(), s, Config{Logger: discardLogger()})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)

	o := res.Outcomes[0]
	assert.False(t, o.Met)
	assert.Equal(t, "memory", o.Result.Backend)
	assert.Contains(t, o.Result.Error, "counter record not found")
	assert.False(t, res.Pass())
}

func TestRunSuite_Cancelled(t *testing.T) {
	s, err := LoadSuite(filepath.Join("testdata", "suites", "memory.yaml"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := RunSuite(ctx, s, Config{Logger: discardLogger()})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Outcomes)
}

func TestExpectation_Met(t *testing.T) {
	pass := &Result{Pass: true, Expected: 10, Final: 10}
	lost := &Result{Expected: 10, Final: 7}
	lostErr := &VerificationFailure{Expected: 10, Actual: 7}
	extraErr := &VerificationFailure{Expected: 10, Actual: 11}
	workerErr := &WorkerError{Worker: 1, Iteration: 2, Err: store.ErrConnection}
	backwardsErr := &MonotonicityViolation{Previous: Sample{Value: 9}, Current: Sample{Value: 7}}

	tests := []struct {
		name   string
		expect Expectation
		res    *Result
		err    error
		want   bool
	}{
		{"pass/pass", ExpectPass, pass, nil, true},
		{"pass/lost", ExpectPass, lost, lostErr, false},
		{"pass/setup failure", ExpectPass, nil, store.ErrUnknownBackend, false},
		{"lost/lost", ExpectLostUpdates, lost, lostErr, true},
		{"lost/extra", ExpectLostUpdates, lost, extraErr, false},
		{"lost/pass", ExpectLostUpdates, pass, nil, false},
		{"lost/worker failure", ExpectLostUpdates, lost, workerErr, false},
		{"lost/lost and backwards", ExpectLostUpdates, lost, errors.Join(backwardsErr, lostErr), true},
		{"lost/backwards only", ExpectLostUpdates, pass, backwardsErr, false},
		{"any/worker failure", ExpectAny, lost, workerErr, true},
		{"any/setup failure", ExpectAny, nil, store.ErrUnknownBackend, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expect.Met(tt.res, tt.err))
		})
	}
}
