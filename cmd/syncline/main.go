package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/syncline-dev/syncline/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncline",
		Short: "Reactive session state synchronization over WebSocket",
		Long: `Syncline keeps server-resident state trees mirrored to remote
clients over persistent WebSocket channels.

Sessions hold the authoritative state; handlers mutate it; ordered
deltas carry the changes to clients, which apply them to a local
mirror. Disconnected clients resume where they left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		validateCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}
