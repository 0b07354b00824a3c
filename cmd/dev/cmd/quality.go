package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func qualityCmd(use, short, what string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run()
			if err != nil {
				return fmt.Errorf("failed to run %s: %w", what, err)
			}
			return nil
		},
	}
}

func TestCmd() *cobra.Command {
	return qualityCmd("test", "Run unit tests (engine, sequencer, adapters, sinks)", "tests", func() error { return test.Test() })
}

func LintCmd() *cobra.Command {
	return qualityCmd("lint", "Run linting", "linting", func() error { return test.Lint() })
}

// IntegrationTestCmd runs the suites that need attached hardware (MCP2221, i2c-dev).
func IntegrationTestCmd() *cobra.Command {
	return qualityCmd("integration-test", "Run hardware integration tests", "integration testing", func() error { return test.Integ() })
}
