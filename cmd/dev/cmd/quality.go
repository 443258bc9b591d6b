package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run unit tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Test(); err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
}

func LintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run linters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Lint(); err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
}

// SmokeCmd runs the built binary against the simulated chip.
func SmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run dist/tonerchip against the simulated chip",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(binary); err != nil {
				return fmt.Errorf("%s not found, run dev build first: %w", binary, err)
			}
			for _, step := range [][]string{
				{"--adapter", "sim", "wiring"},
				{"--adapter", "sim", "scan", "--once"},
				{"--adapter", "sim", "info"},
			} {
				slog.Info("running", "args", step)
				run := exec.CommandContext(cmd.Context(), binary, step...)
				run.Stdout = os.Stdout
				run.Stderr = os.Stderr
				if err := run.Run(); err != nil {
					return fmt.Errorf("smoke step %v failed: %w", step, err)
				}
			}
			slog.Info("smoke test passed")
			return nil
		},
	}
	return cmd
}
