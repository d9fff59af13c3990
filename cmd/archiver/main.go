// Command archiver runs the audit-table archiver: archiving historical
// rows from relational tables to object storage, restoring them back,
// and the supporting maintenance subcommands (schema-drift checks,
// re-driving failed uploads, and a /metrics+/health server).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/labsbykora/audit-table-archiver/pkg/config"
)

// archiverVersion is stamped at build time via -ldflags; it reads "dev"
// in development builds.
var archiverVersion = "dev"

// cfg is the process-wide bound configuration. Exactly one subcommand
// runs per process invocation, so every subcommand's init binds its
// own flags onto the same struct via bindConfig rather than sharing a
// cobra persistent flag set (pkg/config is exercised one command at a
// time, matching its own test suite's usage).
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:           "archiver",
	Short:         "Archive historical rows to object storage and restore them back",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := config.Exec(rootCmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
