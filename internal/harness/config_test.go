package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/isoharness/internal/isolation"
	"github.com/roach88/isoharness/internal/store"
)

func TestConfig_ValidateDefaults(t *testing.T) {
	cfg, err := Config{
		Store: store.Config{Backend: store.BackendMemory},
		Level: isolation.Serializable,
	}.Validate()
	require.NoError(t, err)

	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultIterations, cfg.Iterations)
	assert.Equal(t, DefaultKey, cfg.Key)
	assert.Equal(t, PolicyStrict, cfg.Policy)
	assert.Equal(t, ModeAtomic, cfg.Mode)
	assert.Equal(t, DefaultInitialInterval, cfg.Retry.InitialInterval)
	assert.Equal(t, DefaultMaxInterval, cfg.Retry.MaxInterval)
	assert.False(t, cfg.Retry.Bounded())
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Clock)
	assert.NotNil(t, cfg.OpenStore)
	assert.Equal(t, int64(500), cfg.Expected())
}

func TestConfig_ValidateErrors(t *testing.T) {
	valid := Config{Store: store.Config{Backend: store.BackendMemory}}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"missing backend", func(c *Config) { c.Store.Backend = "" }, "backend is required"},
		{"bad level", func(c *Config) { c.Level = isolation.Level(9) }, "invalid isolation level"},
		{"negative workers", func(c *Config) { c.Workers = -1 }, "workers must be positive"},
		{"negative iterations", func(c *Config) { c.Iterations = -5 }, "iterations must be positive"},
		{"bad policy", func(c *Config) { c.Policy = "sloppy" }, "unknown retry policy"},
		{"bad mode", func(c *Config) { c.Mode = "cas" }, "unknown increment mode"},
		{"negative max attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, "max attempts"},
		{"inverted intervals", func(c *Config) {
			c.Retry.InitialInterval = time.Second
			c.Retry.MaxInterval = time.Millisecond
		}, "shorter than initial interval"},
		{"negative sample interval", func(c *Config) { c.SampleInterval = -time.Second }, "sample interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestConfig_ValidateReportsAllProblems(t *testing.T) {
	_, err := Config{Workers: -1, Iterations: -1}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend is required")
	assert.Contains(t, err.Error(), "workers must be positive")
	assert.Contains(t, err.Error(), "iterations must be positive")
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyStrict, false},
		{"strict", PolicyStrict, false},
		{"LENIENT", PolicyLenient, false},
		{" lenient ", PolicyLenient, false},
		{"retry-all", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAtomic, false},
		{"atomic", ModeAtomic, false},
		{"read-modify-write", ModeReadModifyWrite, false},
		{"RMW", ModeReadModifyWrite, false},
		{"cas", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
