package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hasbase/hasbase-core/bootstrap"
	"github.com/hasbase/hasbase-core/cli"
	pexec "github.com/hasbase/hasbase-core/exec"
	"github.com/hasbase/hasbase-core/logger"
	"github.com/hasbase/hasbase-core/process"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the data directory layout without starting the sidecar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := cfg.BootstrapRoot()
		if err != nil {
			return err
		}
		report := bootstrap.Run(afero.NewOsFs(), root, bootstrap.DefaultLayout())
		newConsole(cmd.OutOrStdout()).Report(report)
		if !report.OK() {
			return fmt.Errorf("%d item(s) could not be created", len(report.Failed))
		}
		return nil
	},
}

var cleanupTimeout time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Kill sidecar processes left behind by a crashed shell",
	Long: `Cleanup finds processes running the configured sidecar binary and kills
them. Do not run it while a shell is running; its sidecar would be killed too.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if cleanupTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cleanupTimeout)
			defer cancel()
		}
		killed, err := process.CleanupOrphanedSidecars(ctx, pexec.NewRealExecutor(), cfg.Sidecar.Binary, 0)
		if err != nil {
			return fmt.Errorf("cleanup failed after %d process(es): %w", killed, err)
		}
		newConsole(cmd.OutOrStdout()).Result(fmt.Sprintf("killed %d orphaned sidecar process(es)", killed), nil)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the sidecar binary and helper tools can be found",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := cli.CheckAll(cmd.Context(), pexec.NewRealExecutor(), cli.DefaultPrerequisites(cfg.Sidecar.Binary))
		fmt.Fprint(cmd.OutOrStdout(), cli.FormatCheckResults(results))
		return cli.ValidateRequired(results)
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Manage shell log files",
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove shell log files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The current process holds the log open; release it first.
		logger.Close()
		n, err := logger.ClearLogs()
		if err != nil {
			return fmt.Errorf("failed to clear logs: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d log file(s)\n", n)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "hasbase %s\n", version)
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupTimeout, "timeout", 30*time.Second, "give up after this long")
	logsCmd.AddCommand(logsClearCmd)
	rootCmd.AddCommand(bootstrapCmd, cleanupCmd, checkCmd, logsCmd, versionCmd)
}
