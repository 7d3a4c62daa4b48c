package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/isoharness/internal/harness"
	"github.com/roach88/isoharness/internal/isolation"
	"github.com/roach88/isoharness/internal/store"
)

// EnvPrefix prefixes environment overrides, e.g. ISOHARNESS_WORKERS=8.
const EnvPrefix = "ISOHARNESS"

// Config keys shared by flags, environment and the config file.
const (
	keyBackend        = "backend"
	keyDSN            = "dsn"
	keyIsolation      = "isolation"
	keyWorkers        = "workers"
	keyIterations     = "iterations"
	keyPolicy         = "policy"
	keyMode           = "mode"
	keyKey            = "key"
	keyTable          = "table"
	keyProvision      = "provision"
	keyMaxAttempts    = "max_attempts"
	keyBackoff        = "backoff"
	keySampleInterval = "sample_interval"
)

// flagKeys maps flag names to config keys where they differ.
var flagKeys = map[string]string{
	"max-attempts":    keyMaxAttempts,
	"sample-interval": keySampleInterval,
}

// addRunFlags registers the run settings on fs.
func addRunFlags(fs *pflag.FlagSet) {
	fs.String(keyBackend, "", fmt.Sprintf("store backend (%s)", strings.Join(store.Backends(), "|")))
	fs.String(keyDSN, "", "backend connection string")
	fs.StringP(keyIsolation, "i", isolation.Serializable.String(), "isolation level")
	fs.IntP(keyWorkers, "w", harness.DefaultWorkers, "concurrent workers")
	fs.IntP(keyIterations, "n", harness.DefaultIterations, "increments per worker")
	fs.String(keyPolicy, string(harness.PolicyStrict), "retry policy (strict|lenient)")
	fs.String(keyMode, string(harness.ModeAtomic), "increment mode (atomic|read-modify-write)")
	fs.String(keyKey, harness.DefaultKey, "counter key")
	fs.String(keyTable, store.DefaultTable, "counter table or bucket")
	fs.Bool(keyProvision, false, "create the table and counter row if missing")
	fs.Int("max-attempts", 0, "attempts per increment before giving up (0 = unbounded)")
	fs.Bool(keyBackoff, false, "exponential backoff between attempts")
	fs.Duration("sample-interval", 0, "sample the counter at this interval to check it never decreases")
}

// newViper layers flags over ISOHARNESS_* environment variables over the
// optional config file.
func newViper(opts *RootOptions, fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			key = f.Name
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// loadRunConfig resolves the harness configuration for cmd.
func loadRunConfig(opts *RootOptions, cmd *cobra.Command) (harness.Config, error) {
	v, err := newViper(opts, cmd.Flags())
	if err != nil {
		return harness.Config{}, err
	}
	return configFromViper(v)
}

func configFromViper(v *viper.Viper) (harness.Config, error) {
	level, err := isolation.Parse(v.GetString(keyIsolation))
	if err != nil {
		return harness.Config{}, err
	}
	policy, err := harness.ParsePolicy(v.GetString(keyPolicy))
	if err != nil {
		return harness.Config{}, err
	}
	mode, err := harness.ParseMode(v.GetString(keyMode))
	if err != nil {
		return harness.Config{}, err
	}

	cfg := harness.Config{
		Store: store.Config{
			Backend: v.GetString(keyBackend),
			DSN:     v.GetString(keyDSN),
			Table:   v.GetString(keyTable),
		},
		Level:      level,
		Workers:    v.GetInt(keyWorkers),
		Iterations: v.GetInt(keyIterations),
		Key:        v.GetString(keyKey),
		Policy:     policy,
		Mode:       mode,
		Retry: harness.RetryConfig{
			MaxAttempts: v.GetInt(keyMaxAttempts),
			Backoff:     v.GetBool(keyBackoff),
		},
		Provision:      v.GetBool(keyProvision),
		SampleInterval: v.GetDuration(keySampleInterval),
	}

	// An explicit 0 would otherwise be replaced by the Config default.
	if cfg.Workers == 0 {
		return harness.Config{}, fmt.Errorf("%w: workers must be positive, got 0", harness.ErrInvalidConfig)
	}
	if cfg.Iterations == 0 {
		return harness.Config{}, fmt.Errorf("%w: iterations must be positive, got 0", harness.ErrInvalidConfig)
	}

	return cfg.Validate()
}
