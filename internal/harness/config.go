package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/isoharness/internal/isolation"
	"github.com/roach88/isoharness/internal/store"
)

// Defaults applied by Config.Validate.
const (
	DefaultWorkers         = 5
	DefaultIterations      = 100
	DefaultKey             = "ABC"
	DefaultInitialInterval = time.Millisecond
	DefaultMaxInterval     = 100 * time.Millisecond
)

// Policy decides what the retry loop does with errors that are not
// serialization conflicts.
type Policy string

const (
	// PolicyStrict retries conflicts only. Anything else aborts the run.
	PolicyStrict Policy = "strict"
	// PolicyLenient logs and retries every error.
	PolicyLenient Policy = "lenient"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyStrict, nil
	case PolicyStrict, PolicyLenient:
		return p, nil
	}
	return "", fmt.Errorf("unknown retry policy %q: must be %q or %q", s, PolicyStrict, PolicyLenient)
}

// Mode selects how one increment is expressed inside the transaction.
type Mode string

const (
	// ModeAtomic issues a single server-side "quantity = quantity + 1".
	ModeAtomic Mode = "atomic"
	// ModeReadModifyWrite reads the counter and writes back value+1.
	// Weak isolation levels lose updates in this mode.
	ModeReadModifyWrite Mode = "read-modify-write"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAtomic, nil
	case ModeAtomic, ModeReadModifyWrite:
		return m, nil
	case "rmw":
		return ModeReadModifyWrite, nil
	}
	return "", fmt.Errorf("unknown increment mode %q: must be %q or %q", s, ModeAtomic, ModeReadModifyWrite)
}

// RetryConfig bounds the retry loop. The zero value retries forever with no
// delay.
type RetryConfig struct {
	// MaxAttempts caps attempts per increment. 0 means unbounded.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Backoff enables exponential backoff between attempts.
	Backoff bool `json:"backoff,omitempty"`

	// InitialInterval and MaxInterval shape the backoff curve.
	InitialInterval time.Duration `json:"initial_interval,omitempty"`
	MaxInterval     time.Duration `json:"max_interval,omitempty"`
}

// Bounded reports whether the loop can give up.
func (r RetryConfig) Bounded() bool {
	return r.MaxAttempts > 0
}

// OpenFunc opens one store connection.
type OpenFunc func(ctx context.Context, cfg store.Config) (store.Store, error)

// Config describes one harness run.
type Config struct {
	Store      store.Config
	Level      isolation.Level
	Workers    int // zero selects DefaultWorkers
	Iterations int // zero selects DefaultIterations
	Key        string
	Policy     Policy
	Mode       Mode
	Retry      RetryConfig

	// Provision creates the counter table and row before the reset.
	Provision bool

	// SampleInterval enables the monotonicity sampler when positive.
	SampleInterval time.Duration

	// RunID labels logs and reports. Generated when empty.
	RunID string

	Logger *slog.Logger
	Clock  Clock

	// OpenStore replaces store.Open, e.g. to inject faults in tests.
	OpenStore OpenFunc
}

// Expected is the counter value a lost-update-free run ends with.
func (c Config) Expected() int64 {
	return int64(c.Workers) * int64(c.Iterations)
}

// Validate applies defaults and rejects invalid settings.
func (c Config) Validate() (Config, error) {
	var errs []error

	if c.Store.Backend == "" {
		errs = append(errs, errors.New("backend is required"))
	}
	if !c.Level.Valid() {
		errs = append(errs, fmt.Errorf("invalid isolation level %v", c.Level))
	}
	switch {
	case c.Workers == 0:
		c.Workers = DefaultWorkers
	case c.Workers < 0:
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	switch {
	case c.Iterations == 0:
		c.Iterations = DefaultIterations
	case c.Iterations < 0:
		errs = append(errs, fmt.Errorf("iterations must be positive, got %d", c.Iterations))
	}
	if c.Key == "" {
		c.Key = DefaultKey
	}

	policy, err := ParsePolicy(string(c.Policy))
	if err != nil {
		errs = append(errs, err)
	}
	c.Policy = policy

	mode, err := ParseMode(string(c.Mode))
	if err != nil {
		errs = append(errs, err)
	}
	c.Mode = mode

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("max attempts must not be negative, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = DefaultInitialInterval
	}
	if c.Retry.MaxInterval <= 0 {
		c.Retry.MaxInterval = DefaultMaxInterval
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, fmt.Errorf("max interval %v is shorter than initial interval %v",
			c.Retry.MaxInterval, c.Retry.InitialInterval))
	}
	if c.SampleInterval < 0 {
		errs = append(errs, fmt.Errorf("sample interval must not be negative, got %v", c.SampleInterval))
	}

	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.OpenStore == nil {
		c.OpenStore = store.Open
	}

	if len(errs) > 0 {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return c, nil
}
