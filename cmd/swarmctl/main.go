package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

type globalFlags struct {
	configPath string
	dbPath     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "swarmctl",
		Short:         "Manage a swarm of neural agents and their durable state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "path to swarm config file")
	cmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "sqlite database path (overrides store settings)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug|info|warn|error")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newInitCmd(flags))
	cmd.AddCommand(newAgentsCmd(flags))
	cmd.AddCommand(newShowCmd(flags))
	cmd.AddCommand(newMetricsCmd(flags))
	cmd.AddCommand(newSimulateCmd(flags))
	cmd.AddCommand(newCheckpointCmd(flags))
	cmd.AddCommand(newRestoreCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "swarmctl %s (commit: %s)\n", Version, Commit)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
