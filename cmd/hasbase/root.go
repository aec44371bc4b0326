package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hasbase/hasbase-core/config"
	"github.com/hasbase/hasbase-core/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	debug   bool

	// Set by loadConfig before any subcommand runs.
	cfg *config.Config
	vp  *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "hasbase",
	Short: "Desktop shell for the hasbase sidecar server",
	Long: `hasbase prepares its data directory, starts the bundled sidecar server
and keeps it running until the shell exits, when the sidecar is asked to
shut itself down.

Run without a subcommand to start the shell in the foreground. While it runs,
"hasbase start", "hasbase shutdown" and "hasbase status" control it through
its local socket.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runShell,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HASBASE_HOME/config.yaml or ~/.config/hasbase/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.Version = version
}

func loadConfig(cmd *cobra.Command, args []string) error {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("debug") {
		v.Set("log.debug", debug)
	}

	c, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logPath, err := c.LogFile()
	if err != nil {
		return err
	}
	logger.SetDebug(c.Log.Debug)
	if err := logger.Init(logPath); err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cfg, vp = c, v
	return nil
}
