package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/isoharness/internal/isolation"
	"github.com/roach88/isoharness/internal/store"
)

// LevelInfo describes one isolation level in the levels listing.
type LevelInfo struct {
	Name     string `json:"name"`
	SQL      string `json:"sql"`
	Snapshot bool   `json:"snapshot"`
}

// LevelsResult is the payload of the levels command.
type LevelsResult struct {
	Levels   []LevelInfo `json:"levels"`
	Backends []string    `json:"backends"`
}

// NewLevelsCommand creates the levels command.
func NewLevelsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "levels",
		Short:         "List isolation levels and store backends",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			res := listLevels()
			return out.Success(res, func(w io.Writer) error {
				return writeLevels(w, res)
			})
		},
	}
}

func listLevels() LevelsResult {
	res := LevelsResult{Backends: store.Backends()}
	for _, l := range isolation.Levels() {
		res.Levels = append(res.Levels, LevelInfo{
			Name:     l.String(),
			SQL:      l.SQL().String(),
			Snapshot: l.UsesSnapshot(),
		})
	}
	return res
}

func writeLevels(w io.Writer, res LevelsResult) error {
	fmt.Fprintln(w, "Isolation levels (weakest first):")
	for _, l := range res.Levels {
		snapshot := ""
		if l.Snapshot {
			snapshot = "  snapshot"
		}
		fmt.Fprintf(w, "  %-18s %s%s\n", l.Name, l.SQL, snapshot)
	}
	fmt.Fprintln(w, "Backends:")
	for _, b := range res.Backends {
		if _, err := fmt.Fprintf(w, "  %s\n", b); err != nil {
			return err
		}
	}
	return nil
}
