package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/isoharness/internal/harness"
)

// SuiteOptions holds flags for the suite command.
type SuiteOptions struct {
	*RootOptions
	Filter string // only runs with this name

	// OpenStore overrides store.Open (for testing).
	OpenStore harness.OpenFunc
}

// NewSuiteCommand creates the suite command.
func NewSuiteCommand(rootOpts *RootOptions) *cobra.Command {
	return newSuiteCommand(&SuiteOptions{RootOptions: rootOpts})
}

func newSuiteCommand(opts *SuiteOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suite <file>",
		Short: "Run a matrix of backends and isolation levels from a YAML file",
		Long: `Run every entry of a suite file at each of its isolation levels, one run
after another, and compare each outcome with its expectation
(pass, lost-updates or any).

Exit codes:
  0 - Every run met its expectation
  1 - One or more runs did not
  2 - Command error (unreadable or invalid suite file)

Examples:
  isoharness suite ./matrix.yaml
  isoharness suite ./matrix.yaml --run sqlite --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "run", "", "only execute the suite entry with this name")

	return cmd
}

func runSuite(opts *SuiteOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	s, err := harness.LoadSuite(path)
	if err != nil {
		_ = out.Failure(CodeConfig, err.Error(), nil, nil, nil)
		return WrapExitError(ExitCommandError, "failed to load suite", err)
	}
	if opts.Filter != "" {
		kept := s.Runs[:0]
		for _, r := range s.Runs {
			if r.Name == opts.Filter {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			err := fmt.Errorf("suite %q has no run named %q", s.Name, opts.Filter)
			_ = out.Failure(CodeConfig, err.Error(), nil, nil, nil)
			return WrapExitError(ExitCommandError, "nothing to run", err)
		}
		s.Runs = kept
	}

	base := harness.Config{
		Logger:    newLogger(cmd.ErrOrStderr(), opts.Verbose),
		OpenStore: opts.OpenStore,
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	res, err := harness.RunSuite(ctx, s, base)
	if err != nil && res == nil {
		_ = out.Failure(CodeConfig, err.Error(), nil, nil, nil)
		return WrapExitError(ExitCommandError, "invalid suite", err)
	}

	text := func(w io.Writer) error { return harness.WriteSuiteReport(w, res) }
	if err != nil {
		if werr := out.Failure(CodeSuite, err.Error(), nil, res, text); werr != nil {
			return werr
		}
		return WrapExitError(ExitFailure, "suite interrupted", err)
	}
	if !res.Pass() {
		msg := fmt.Sprintf("%d of %d runs did not meet expectations", res.Unexpected(), len(res.Outcomes))
		if werr := out.Failure(CodeSuite, msg, nil, res, text); werr != nil {
			return werr
		}
		return NewExitError(ExitFailure, msg)
	}
	return out.Success(res, text)
}
