// Package config loads tether's operational tuning values.
//
// Values come from a tether.yaml config file when present, overridden by
// TETHER_* environment variables. Backoff windows and poll timeouts are
// deliberately configuration, not constants: they are operational tuning
// values, and deployments disagree on them.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tetherhq/tether/internal/debug"
)

// Config carries every tunable the engine reads.
type Config struct {
	// Store settings.
	StoreOwner      string        `mapstructure:"store_owner"`
	StoreRepo       string        `mapstructure:"store_repo"`
	StoreToken      string        `mapstructure:"store_token"`
	MaxCommentBytes int           `mapstructure:"max_comment_bytes"`
	ChunkMargin     int           `mapstructure:"chunk_margin"`
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed"`

	// Dispatch settings.
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`
	PollInitialDelay time.Duration `mapstructure:"poll_initial_delay"`
	WorkflowFile     string        `mapstructure:"workflow_file"`

	// Plan settings.
	ReadyLabel   string `mapstructure:"ready_label"`
	BranchPrefix string `mapstructure:"branch_prefix"`
	BaseBranch   string `mapstructure:"base_branch"`
}

// Defaults mirror the teacher deployment: 30s retry windows, GitHub's
// comment ceiling with a fixed fence margin.
const (
	defaultMaxCommentBytes = 65000
	defaultChunkMargin     = 500
	defaultRetryMaxElapsed = 30 * time.Second
	defaultPollTimeout     = 2 * time.Minute
	defaultPollInitial     = 2 * time.Second
	defaultWorkflowFile    = "tether-run.yml"
	defaultReadyLabel      = "tether:ready"
	defaultBranchPrefix    = "tether/plan-"
	defaultBaseBranch      = "main"
)

// Load reads configuration from tether.yaml (working directory or $HOME)
// and the TETHER_ environment prefix. A missing config file is not an
// error; a malformed one is.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("tether")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tether")

	// Keys without defaults still need registering: AutomaticEnv only
	// surfaces keys viper already knows about through Unmarshal.
	v.SetDefault("store_owner", "")
	v.SetDefault("store_repo", "")
	v.SetDefault("store_token", "")
	v.SetDefault("max_comment_bytes", defaultMaxCommentBytes)
	v.SetDefault("chunk_margin", defaultChunkMargin)
	v.SetDefault("retry_max_elapsed", defaultRetryMaxElapsed)
	v.SetDefault("poll_timeout", defaultPollTimeout)
	v.SetDefault("poll_initial_delay", defaultPollInitial)
	v.SetDefault("workflow_file", defaultWorkflowFile)
	v.SetDefault("ready_label", defaultReadyLabel)
	v.SetDefault("branch_prefix", defaultBranchPrefix)
	v.SetDefault("base_branch", defaultBaseBranch)

	v.SetEnvPrefix("TETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading tether.yaml: %w", err)
		}
	} else {
		debug.Logf("config: loaded %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot operate under.
func (c *Config) Validate() error {
	if c.ChunkMargin >= c.MaxCommentBytes {
		return fmt.Errorf("config: chunk_margin %d leaves no room under max_comment_bytes %d", c.ChunkMargin, c.MaxCommentBytes)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("config: poll_timeout must be positive, got %s", c.PollTimeout)
	}
	return nil
}

// MaxChunkBytes is the codec's per-chunk payload ceiling: the store's
// comment capacity minus the fence margin.
func (c *Config) MaxChunkBytes() int {
	return c.MaxCommentBytes - c.ChunkMargin
}

// Default returns the built-in configuration without touching files or the
// environment. Tests use this.
func Default() *Config {
	return &Config{
		MaxCommentBytes:  defaultMaxCommentBytes,
		ChunkMargin:      defaultChunkMargin,
		RetryMaxElapsed:  defaultRetryMaxElapsed,
		PollTimeout:      defaultPollTimeout,
		PollInitialDelay: defaultPollInitial,
		WorkflowFile:     defaultWorkflowFile,
		ReadyLabel:       defaultReadyLabel,
		BranchPrefix:     defaultBranchPrefix,
		BaseBranch:       defaultBaseBranch,
	}
}
