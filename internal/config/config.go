// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the global static configuration for the orchestrator.
// Every field has a default; a config file and STRIX_* environment
// variables may override them.
type Config struct {
	// SbatchBin is the scheduler submission binary.
	SbatchBin string `mapstructure:"sbatch_bin"`
	// SingularityBin is the container runtime binary used by job runners.
	SingularityBin string `mapstructure:"singularity_bin"`
	// LivenessWindow is the maximum age of a status ping before a
	// PENDING/RUNNING job is suspected dead.
	LivenessWindow time.Duration `mapstructure:"liveness_window"`
	// PollInterval is the sleep between child-process liveness polls
	// inside a job runner.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// TriggerPartition is the default partition for task-init, task-next
	// and root-trigger submissions.
	TriggerPartition string `mapstructure:"trigger_partition"`
	// Virtualenv is the default virtualenv sourced by generated scripts.
	Virtualenv string `mapstructure:"virtualenv"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string           `mapstructure:"level"` // debug / info / warn / error
	File  FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures the optional rotating file log output.
type FileOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads the configuration from path (optional, "" = defaults only),
// applying STRIX_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("sbatch_bin", "sbatch")
	v.SetDefault("singularity_bin", "singularity")
	v.SetDefault("liveness_window", "60s")
	v.SetDefault("poll_interval", "10s")
	v.SetDefault("trigger_partition", "cpu")
	v.SetDefault("virtualenv", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.max_size_mb", 50)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age_days", 14)

	v.SetEnvPrefix("STRIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.LivenessWindow <= 0 {
		return fmt.Errorf("config: liveness_window must be positive, got %s", c.LivenessWindow)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.SbatchBin == "" {
		return fmt.Errorf("config: sbatch_bin must not be empty")
	}
	return nil
}
