package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hasbase/hasbase-core/logger"
	"github.com/hasbase/hasbase-core/paths"
)

// EnvPrefix is the prefix for environment overrides, e.g. HASBASE_SIDECAR_BINARY
// for sidecar.binary.
const EnvPrefix = "HASBASE"

// Config holds the application configuration
type Config struct {
	Sidecar   SidecarConfig   `mapstructure:"sidecar" yaml:"sidecar"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap" yaml:"bootstrap"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// SidecarConfig controls how the worker process is launched and stopped.
type SidecarConfig struct {
	// Binary is a bare name resolved next to the executable, or a path
	Binary string   `mapstructure:"binary" yaml:"binary"`
	Args   []string `mapstructure:"args" yaml:"args,omitempty"`
	// Env entries are KEY=VALUE and are appended to the inherited environment
	Env     []string `mapstructure:"env" yaml:"env,omitempty"`
	WorkDir string   `mapstructure:"work_dir" yaml:"work_dir,omitempty"`

	ShutdownCommand string        `mapstructure:"shutdown_command" yaml:"shutdown_command"`
	ExitKillGrace   time.Duration `mapstructure:"exit_kill_grace" yaml:"-"`
	Autostart       bool          `mapstructure:"autostart" yaml:"autostart"`
}

// BootstrapConfig controls the data directory prepared at startup.
type BootstrapConfig struct {
	// Root defaults to the data directory when empty
	Root string `mapstructure:"root" yaml:"root,omitempty"`
}

// LogConfig controls the log file.
type LogConfig struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`
	// File defaults to <logs dir>/hasbase.log when empty
	File string `mapstructure:"file" yaml:"file,omitempty"`
	// SidecarTranscripts copies each run's output to <logs dir>/sidecar-<runID>.log
	SidecarTranscripts bool `mapstructure:"sidecar_transcripts" yaml:"sidecar_transcripts"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Sidecar: SidecarConfig{
			Binary:          "main",
			Args:            []string{},
			Env:             []string{},
			ShutdownCommand: "sidecar shutdown",
			ExitKillGrace:   0, // Never force-kill on exit
			Autostart:       true,
		},
		Log: LogConfig{
			SidecarTranscripts: true,
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("sidecar.binary", defaults.Sidecar.Binary)
	v.SetDefault("sidecar.args", defaults.Sidecar.Args)
	v.SetDefault("sidecar.env", defaults.Sidecar.Env)
	v.SetDefault("sidecar.work_dir", defaults.Sidecar.WorkDir)
	v.SetDefault("sidecar.shutdown_command", defaults.Sidecar.ShutdownCommand)
	v.SetDefault("sidecar.exit_kill_grace", defaults.Sidecar.ExitKillGrace.String())
	v.SetDefault("sidecar.autostart", defaults.Sidecar.Autostart)

	v.SetDefault("bootstrap.root", defaults.Bootstrap.Root)

	v.SetDefault("log.debug", defaults.Log.Debug)
	v.SetDefault("log.file", defaults.Log.File)
	v.SetDefault("log.sidecar_transcripts", defaults.Log.SidecarTranscripts)
}

// NewViper returns a viper instance with defaults, HASBASE_ environment
// overrides and the config file applied. An empty configFile means the
// default config.yaml, which may be missing; an explicit file must exist.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	// sidecar.exit_kill_grace -> HASBASE_SIDECAR_EXIT_KILL_GRACE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := configFile != ""
	if !explicit {
		path, err := paths.ConfigFilePath()
		if err != nil {
			return nil, err
		}
		configFile = path
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
	}
	return v, nil
}

// Load decodes v into a Config and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Sidecar.Args == nil {
		cfg.Sidecar.Args = []string{}
	}
	if cfg.Sidecar.Env == nil {
		cfg.Sidecar.Env = []string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the config can be used to run a sidecar.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Sidecar.Binary) == "" {
		return fmt.Errorf("sidecar.binary must not be empty")
	}

	cmd := c.Sidecar.ShutdownCommand
	if strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("sidecar.shutdown_command must not be empty")
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return fmt.Errorf("sidecar.shutdown_command must be a single line")
	}

	if c.Sidecar.ExitKillGrace < 0 {
		return fmt.Errorf("sidecar.exit_kill_grace must not be negative, got %s", c.Sidecar.ExitKillGrace)
	}

	for _, kv := range c.Sidecar.Env {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("sidecar.env entry %q is not KEY=VALUE", kv)
		}
	}
	return nil
}

// BootstrapRoot returns the directory to prepare at startup.
func (c *Config) BootstrapRoot() (string, error) {
	if c.Bootstrap.Root != "" {
		return ExpandHome(c.Bootstrap.Root)
	}
	return paths.DataDir()
}

// LogFile returns the log file path.
func (c *Config) LogFile() (string, error) {
	if c.Log.File != "" {
		return ExpandHome(c.Log.File)
	}
	return logger.DefaultLogPath()
}

// fileConfig mirrors Config for YAML output. Durations are written in their
// string form so the file reads back through viper unchanged.
type fileConfig struct {
	Sidecar struct {
		SidecarConfig `yaml:",inline"`
		ExitKillGrace string `yaml:"exit_kill_grace"`
	} `yaml:"sidecar"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Log       LogConfig       `yaml:"log"`
}

// Save writes the config as YAML to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var out fileConfig
	out.Sidecar.SidecarConfig = c.Sidecar
	out.Sidecar.ExitKillGrace = c.Sidecar.ExitKillGrace.String()
	out.Bootstrap = c.Bootstrap
	out.Log = c.Log

	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Watch calls onChange with the reloaded config each time the config file
// changes. Edits that fail to decode or validate are logged and ignored.
func Watch(v *viper.Viper, onChange func(*Config)) {
	log := logger.WithComponent("config")
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(v)
		if err != nil {
			log.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		log.Info("config reloaded", "file", e.Name, "op", e.Op.String())
		onChange(cfg)
	})
	v.WatchConfig()
}
