// Command isoharness checks whether a database isolation level prevents lost
// updates under concurrent retry-until-success increments.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/isoharness/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
