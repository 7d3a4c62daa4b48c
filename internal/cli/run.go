package cli

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/isoharness/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// OpenStore overrides store.Open (for testing).
	OpenStore harness.OpenFunc
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the increment experiment at one isolation level",
		Long: `Reset the counter to 0, start the workers, wait for all of them and check
that the final counter equals workers x iterations.

Settings come from flags, ISOHARNESS_* environment variables (for example
ISOHARNESS_DSN or ISOHARNESS_MAX_ATTEMPTS) and the --config file, in that
order of precedence.

Exit codes:
  0 - No updates lost
  1 - Lost updates or a worker failed
  2 - Command error (bad settings, backend unreachable, etc.)

Examples:
  isoharness run --backend sqlite --dsn ./counter.db --provision -i serializable
  isoharness run --backend mysql --dsn 'root@tcp(127.0.0.1:3306)/test' -i repeatable-read
  isoharness run --backend postgres --dsn postgres://localhost/test -w 10 -n 50 --format json
  isoharness run --backend memory --mode read-modify-write -i read-committed --provision`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarness(opts, cmd)
		},
	}

	addRunFlags(cmd.Flags())

	return cmd
}

func runHarness(opts *RunOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := loadRunConfig(opts.RootOptions, cmd)
	if err != nil {
		_ = out.Failure(CodeConfig, err.Error(), nil, nil, nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	cfg.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
	cfg.OpenStore = opts.OpenStore

	ctx, cancel := signalContext(cmd)
	defer cancel()

	res, err := harness.Run(ctx, cfg)
	if res == nil {
		_ = out.Failure(CodeSetup, err.Error(), nil, nil, nil)
		return WrapExitError(ExitCommandError, "run setup failed", err)
	}

	text := func(w io.Writer) error { return harness.WriteReport(w, res) }
	if err != nil {
		if werr := out.Failure(failureCode(err), err.Error(), failureDetails(err), res, text); werr != nil {
			return werr
		}
		return WrapExitError(ExitFailure, "run failed", err)
	}
	return out.Success(res, text)
}

// failureCode maps a run error to its JSON error code.
func failureCode(err error) string {
	var vf *harness.VerificationFailure
	var mv *harness.MonotonicityViolation
	switch {
	case errors.As(err, &vf), errors.As(err, &mv):
		return CodeVerification
	default:
		return CodeWorker
	}
}

// WorkerFailure locates the failing worker in a CodeWorker response.
type WorkerFailure struct {
	Worker    int `json:"worker"`
	Iteration int `json:"iteration,omitempty"`
	Attempts  int `json:"attempts,omitempty"`
}

// failureDetails returns the error details for a failed run, or nil.
func failureDetails(err error) any {
	var werr *harness.WorkerError
	if !errors.As(err, &werr) {
		return nil
	}
	return WorkerFailure{Worker: werr.Worker, Iteration: werr.Iteration, Attempts: werr.Attempts}
}
