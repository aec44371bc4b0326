package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/hasbase/hasbase-core/ipc"
	"github.com/hasbase/hasbase-core/paths"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sidecar of the running shell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, ipc.CommandStart)
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask the sidecar of the running shell to shut down",
	Long: `Shutdown sends the shutdown command to the sidecar's stdin. The sidecar
is expected to exit on its own; the shell does not wait for it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, ipc.CommandShutdown)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sidecar state of the running shell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, ipc.CommandStatus)
	},
}

func init() {
	rootCmd.AddCommand(startCmd, shutdownCmd, statusCmd)
}

// errCommandFailed is returned after the shell's error has been printed.
var errCommandFailed = errors.New("command failed")

func runControl(cmd *cobra.Command, command ipc.Command) error {
	socketPath, err := paths.ControlSocketPath()
	if err != nil {
		return err
	}
	resp, err := ipc.Call(socketPath, command)
	if err != nil {
		return err
	}
	return printResponse(newConsole(cmd.OutOrStdout()), resp)
}

func printResponse(c *console, resp ipc.Response) error {
	if !resp.OK {
		c.Result("", errors.New(resp.Error))
		return errCommandFailed
	}
	if resp.Status != nil {
		c.Status(*resp.Status)
		return nil
	}
	c.Result(resp.Message, nil)
	return nil
}
