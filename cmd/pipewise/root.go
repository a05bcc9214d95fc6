package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// hostVersion is the Pipewise host version plugins are checked against.
const hostVersion = "1.0.0"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pipewise",
	Short: "Workflow automation host",
	Long: `Pipewise runs automation workflows assembled from node types.

This CLI manages the runtime extensions (plugins) that contribute
additional node types: discovering installed plugins, searching remote
plugin catalogs, and driving the install/enable/disable lifecycle.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.pipewise/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the host version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("pipewise " + hostVersion)
	},
}

// newLogger builds the CLI logger. Quiet by default; --verbose surfaces the
// manager's and sources' debug trail.
func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
