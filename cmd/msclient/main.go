// Command msclient talks to the mongo service: it executes single
// requests, drives perf workloads, and runs an in-memory stand-in for
// the service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "msclient",
	Short: "mongo service protocol client",
	Long: wrapString(`msclient sends requests to the mongo service over its length-prefixed
BSON protocol. Every flag can also be set through the environment as MSCLIENT_<FLAG>
(e.g. MSCLIENT_REQUEST_TIMEOUT=5s), or from .env and .env.local files.`),
	SilenceUsage:      true,
	PersistentPreRunE: processConfig,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	setupClientFlags(rootCmd)

	rootCmd.AddCommand(execCmd(), perfCmd(), stubCmd(), versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
