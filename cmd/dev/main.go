package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mklimuk/thermobus/cmd/dev/cmd"
)

func main() {
	err := rootCmd().Execute()
	if err != nil {
		slog.Error("unexpected error", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:   "dev",
		Short: "build/test tool for the thermobus project",
		Long:  "Builds the thermobus cli natively or in a cross-compilation container, runs the test suites and polls simulated sensors",
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging(debug)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.AddCommand(
		cmd.BuildCmd(),
		cmd.SmokeCmd(),
		cmd.ChangelogCmd(),
		cmd.TestCmd(),
		cmd.LintCmd(),
		cmd.IntegrationTestCmd(),
	)
	return root
}

func setupLogging(debug bool) {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	charm := log.NewWithOptions(os.Stdout, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "tb",
		Level:           level,
	})
	charm.SetColorProfile(termenv.TrueColor)
	slog.SetDefault(slog.New(charm))
}
