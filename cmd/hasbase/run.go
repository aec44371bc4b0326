package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hasbase/hasbase-core/app"
	"github.com/hasbase/hasbase-core/config"
	"github.com/hasbase/hasbase-core/logger"
	"github.com/hasbase/hasbase-core/paths"
)

var (
	runNoSocket      bool
	runNoInteractive bool
	runQuiet         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the shell in the foreground (default)",
	Long: `Run prepares the data directory, starts the sidecar and relays its output
to the terminal until interrupted.

While running, type one of these commands and press enter:
  start     start the sidecar if it is not running
  shutdown  ask the sidecar to shut down
  status    show the sidecar state
  quit      exit the shell`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(runCmd)

	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().BoolVar(&runNoSocket, "no-socket", false, "do not open the control socket")
		c.Flags().BoolVar(&runNoInteractive, "no-interactive", false, "do not read commands from stdin")
		c.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not print sidecar output")
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cmd")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	out := cmd.OutOrStdout()

	if vp != nil && vp.ConfigFileUsed() != "" {
		if _, err := os.Stat(vp.ConfigFileUsed()); err == nil {
			config.Watch(vp, func(c *config.Config) {
				logger.SetDebug(c.Log.Debug)
			})
		}
	}

	socketPath := ""
	if !runNoSocket {
		var err error
		if socketPath, err = paths.ControlSocketPath(); err != nil {
			return err
		}
	}

	opts := app.Options{
		Config: cfg,
		OnReady: func(shell *app.Shell) {
			if !runQuiet {
				shell.Bus().SubscribeAll(newConsole(out).Print)
			}
			if !runNoInteractive {
				go func() {
					if readCommands(ctx, cmd.InOrStdin(), out, shell) {
						quit()
					}
				}()
			}
		},
	}

	log.Info("starting shell", "version", version, "socket", socketPath, "legacyLayout", paths.IsLegacyLayout())
	if err := app.DesktopEntryPoint(ctx, opts, socketPath); err != nil {
		return fmt.Errorf("shell stopped: %w", err)
	}
	fmt.Fprintln(out, "hasbase stopped.")
	return nil
}

// readCommands executes interactive commands until ctx is done or input
// ends. It reports whether the user asked to quit; plain EOF leaves the shell
// running so it can be started with stdin closed.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, shell *app.Shell) bool {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			if !execInteractive(ctx, line, out, shell) {
				return true
			}
		}
	}
}

// execInteractive runs one interactive command. It returns false on quit.
func execInteractive(ctx context.Context, line string, out io.Writer, shell *app.Shell) bool {
	c := newConsole(out)

	switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
	case "":
		return true
	case "quit", "exit":
		return false
	case "start":
		c.Result(shell.StartCommand(ctx))
	case "shutdown":
		c.Result(shell.ShutdownCommand())
	case "status":
		c.Status(shell.StatusInfo())
	case "help":
		c.Info("commands: start, shutdown, status, quit")
	default:
		c.Result("", fmt.Errorf("unknown command %q (try help)", cmd))
	}
	return true
}
