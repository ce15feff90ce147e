package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information injected at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "bbdrain",
		Short: "bbdrain - burst buffer drain engine",
		Long: `bbdrain copies files staged on a burst buffer to slower backing storage.

Operations are queued in order and executed by a single background worker,
so walking the staging area never waits on the destination.

Every flag can also be set with a BBDRAIN_ environment variable
(e.g. BBDRAIN_BUFFER_SIZE=4MiB) or in the YAML file given by --config.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")

	root.AddCommand(newDrainCmd(&cfgFile))
	root.AddCommand(newJournalCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
