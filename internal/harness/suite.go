package harness

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/isoharness/internal/isolation"
)

//go:embed suite.cue
var suiteSchema string

// Expectation is the outcome a suite run is supposed to produce.
type Expectation string

const (
	// ExpectPass requires final == expected with no worker errors.
	ExpectPass Expectation = "pass"
	// ExpectLostUpdates requires a VerificationFailure with final < expected,
	// alone or joined with a MonotonicityViolation.
	ExpectLostUpdates Expectation = "lost-updates"
	// ExpectAny accepts any run that got past setup.
	ExpectAny Expectation = "any"
)

// Met reports whether a run's outcome satisfies e.
func (e Expectation) Met(res *Result, err error) bool {
	switch e {
	case ExpectLostUpdates:
		var vf *VerificationFailure
		return errors.As(err, &vf) && vf.Actual < vf.Expected
	case ExpectAny:
		return res != nil
	default:
		return err == nil && res != nil && res.Pass
	}
}

// Settings are the tunables a suite can set in defaults or per run. Unset
// fields inherit.
type Settings struct {
	Workers        int    `yaml:"workers,omitempty" json:"workers,omitempty"`
	Iterations     int    `yaml:"iterations,omitempty" json:"iterations,omitempty"`
	Policy         string `yaml:"policy,omitempty" json:"policy,omitempty"`
	Mode           string `yaml:"mode,omitempty" json:"mode,omitempty"`
	Key            string `yaml:"key,omitempty" json:"key,omitempty"`
	Table          string `yaml:"table,omitempty" json:"table,omitempty"`
	Provision      *bool  `yaml:"provision,omitempty" json:"provision,omitempty"`
	MaxAttempts    *int   `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	Backoff        *bool  `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	SampleInterval string `yaml:"sample_interval,omitempty" json:"sample_interval,omitempty"`
}

// apply overlays the set fields of s onto cfg.
func (s Settings) apply(cfg Config) (Config, error) {
	if s.Workers != 0 {
		cfg.Workers = s.Workers
	}
	if s.Iterations != 0 {
		cfg.Iterations = s.Iterations
	}
	if s.Policy != "" {
		p, err := ParsePolicy(s.Policy)
		if err != nil {
			return cfg, err
		}
		cfg.Policy = p
	}
	if s.Mode != "" {
		m, err := ParseMode(s.Mode)
		if err != nil {
			return cfg, err
		}
		cfg.Mode = m
	}
	if s.Key != "" {
		cfg.Key = s.Key
	}
	if s.Table != "" {
		cfg.Store.Table = s.Table
	}
	if s.Provision != nil {
		cfg.Provision = *s.Provision
	}
	if s.MaxAttempts != nil {
		cfg.Retry.MaxAttempts = *s.MaxAttempts
	}
	if s.Backoff != nil {
		cfg.Retry.Backoff = *s.Backoff
	}
	if s.SampleInterval != "" {
		d, err := time.ParseDuration(s.SampleInterval)
		if err != nil {
			return cfg, fmt.Errorf("sample_interval: %w", err)
		}
		cfg.SampleInterval = d
	}
	return cfg, nil
}

// SuiteRun is one entry of a suite: a backend exercised at one or more
// isolation levels.
type SuiteRun struct {
	Name     string      `yaml:"name"`
	Backend  string      `yaml:"backend"`
	DSN      string      `yaml:"dsn,omitempty"`
	Levels   []string    `yaml:"levels"`
	Expect   Expectation `yaml:"expect,omitempty"`
	Settings `yaml:",inline"`
}

// Suite is a matrix of harness runs loaded from YAML.
type Suite struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Defaults    Settings   `yaml:"defaults,omitempty"`
	Runs        []SuiteRun `yaml:"runs"`
}

// LoadSuite reads and validates a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	return ParseSuite(data)
}

// ParseSuite validates data against the suite schema and decodes it.
func ParseSuite(data []byte) (*Suite, error) {
	if err := checkSuiteSchema(data); err != nil {
		return nil, err
	}

	var s Suite
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for i := range s.Runs {
		if s.Runs[i].Expect == "" {
			s.Runs[i].Expect = ExpectPass
		}
	}
	return &s, nil
}

// checkSuiteSchema unifies the document with #Suite from suite.cue.
func checkSuiteSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		return errors.New("invalid suite: empty document")
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(suiteSchema, cue.Filename("suite.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("failed to compile suite schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Suite")).Unify(cctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid suite: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// PlannedRun is one (run, level) pair with its fully merged Config.
type PlannedRun struct {
	Run    string
	Level  isolation.Level
	Expect Expectation
	Config Config
}

// Plan expands every run over its levels. base supplies the settings a
// suite cannot express (logger, clock, store opener) and the lowest layer
// of defaults.
func (s *Suite) Plan(base Config) ([]PlannedRun, error) {
	var plan []PlannedRun
	for _, run := range s.Runs {
		cfg, err := s.Defaults.apply(base)
		if err != nil {
			return nil, fmt.Errorf("suite defaults: %w", err)
		}
		cfg, err = run.Settings.apply(cfg)
		if err != nil {
			return nil, fmt.Errorf("run %q: %w", run.Name, err)
		}
		cfg.Store.Backend = run.Backend
		cfg.Store.DSN = run.DSN
		if cfg.Store.DSN == "" && run.Backend == "memory" {
			cfg.Store.DSN = run.Name
		}

		for _, name := range run.Levels {
			level, err := isolation.Parse(name)
			if err != nil {
				return nil, fmt.Errorf("run %q: %w", run.Name, err)
			}
			c := cfg
			c.Level = level
			c.RunID = ""
			if _, err := c.Validate(); err != nil {
				return nil, fmt.Errorf("run %q at %s: %w", run.Name, level, err)
			}
			plan = append(plan, PlannedRun{Run: run.Name, Level: level, Expect: run.Expect, Config: c})
		}
	}
	return plan, nil
}

// Outcome is one executed PlannedRun.
type Outcome struct {
	Run    string          `json:"run"`
	Level  isolation.Level `json:"level"`
	Expect Expectation     `json:"expect"`
	Met    bool            `json:"met"`
	Result *Result         `json:"result"`
}

// SuiteResult collects the outcomes of RunSuite.
type SuiteResult struct {
	Name     string    `json:"name"`
	Outcomes []Outcome `json:"outcomes"`
}

// Unexpected counts outcomes that did not meet their expectation.
func (r *SuiteResult) Unexpected() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Met {
			n++
		}
	}
	return n
}

// Pass reports whether every outcome met its expectation.
func (r *SuiteResult) Pass() bool {
	return r.Unexpected() == 0
}

// RunSuite executes the planned runs one after another. Each run resets the
// counter, so runs against the same database do not affect each other.
//
// Run failures are recorded as outcomes. The returned error is non-nil only
// for planning errors or cancellation.
func RunSuite(ctx context.Context, s *Suite, base Config) (*SuiteResult, error) {
	plan, err := s.Plan(base)
	if err != nil {
		return nil, err
	}

	out := &SuiteResult{Name: s.Name}
	for _, p := range plan {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		res, err := Run(ctx, p.Config)
		met := p.Expect.Met(res, err)
		if res == nil {
			res = &Result{
				Backend: p.Config.Store.Backend,
				Level:   p.Level,
				Policy:  p.Config.Policy,
				Mode:    p.Config.Mode,
			}
			if err != nil {
				res.Error = err.Error()
			}
		}
		out.Outcomes = append(out.Outcomes, Outcome{
			Run:    p.Run,
			Level:  p.Level,
			Expect: p.Expect,
			Met:    met,
			Result: res,
		})
	}
	return out, nil
}
