// Package command provides the cobra command tree for the mudpie binary,
// generalized from momeni/clean-arch's cmd/caweb/command root+subcommand
// split (a persistent --config flag, one subcommand per verb) and wired
// to this module's own config/store/world/script/mudserver stack in
// place of caweb's web-server wiring.
package command

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string
var debug bool

var rootCmd = &cobra.Command{
	Use:   "mudpie",
	Short: "A multi-user text MUD/MOO server",
	Long: `mudpie hosts a persistent, multi-user text world: objects,
rooms, players and programs stored behind an abstract persistence port,
matched and dispatched over a line-oriented TCP protocol.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mudpie.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable development (console, debug-level) logging")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command, parsing CLI arguments and dispatching
// to the matched subcommand.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
