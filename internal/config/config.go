// Package config loads the engine configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// EnvPrefix prefixes every environment variable the configuration reads.
const EnvPrefix = "TACTICS"

// Config is the complete configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Replay  ReplayConfig  `mapstructure:"replay"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" env:"TACTICS_LOG_LEVEL"`
	Format string `mapstructure:"format" env:"TACTICS_LOG_FORMAT"`
}

// EngineConfig configures games created by the CLI.
type EngineConfig struct {
	// DispatchMode applies to outside observers; rule listeners always
	// run sequentially.
	DispatchMode      string   `mapstructure:"dispatch_mode" env:"TACTICS_DISPATCH_MODE"`
	Seed              uint64   `mapstructure:"seed" env:"TACTICS_SEED"`
	SnapshotRetention int      `mapstructure:"snapshot_retention" env:"TACTICS_SNAPSHOT_RETENTION"`
	MaxStepsPerFlush  int      `mapstructure:"max_steps_per_flush" env:"TACTICS_MAX_STEPS"`
	Players           []string `mapstructure:"players" env:"TACTICS_PLAYERS" envSeparator:","`
	DeckSize          int      `mapstructure:"deck_size" env:"TACTICS_DECK_SIZE"`
	HandSize          int      `mapstructure:"hand_size" env:"TACTICS_HAND_SIZE"`
}

// ReplayConfig configures where replay archives are written.
type ReplayConfig struct {
	Directory string `mapstructure:"directory" env:"TACTICS_REPLAY_DIR"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("engine.dispatch_mode", "sequential")
	v.SetDefault("engine.seed", 1)
	v.SetDefault("engine.snapshot_retention", 64)
	v.SetDefault("engine.max_steps_per_flush", 10000)
	v.SetDefault("engine.players", []string{"p1", "p2"})
	v.SetDefault("engine.deck_size", 20)
	v.SetDefault("engine.hand_size", 3)

	v.SetDefault("replay.directory", "replays")
}

// Load reads the configuration. An empty path uses defaults and the
// environment only. Nested keys can be overridden with TACTICS_SECTION_KEY
// variables; the shorter variables named in the struct tags win over both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the engine cannot use.
func (c *Config) Validate() error {
	var err error

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		err = multierr.Append(err, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		err = multierr.Append(err, fmt.Errorf("logging.format: must be json or console, got %q", c.Logging.Format))
	}

	if _, modeErr := rules.ParseDispatchMode(c.Engine.DispatchMode); modeErr != nil {
		err = multierr.Append(err, fmt.Errorf("engine.dispatch_mode: %w", modeErr))
	}
	if c.Engine.SnapshotRetention < 0 {
		err = multierr.Append(err, errors.New("engine.snapshot_retention: must not be negative"))
	}
	if c.Engine.MaxStepsPerFlush < 0 {
		err = multierr.Append(err, errors.New("engine.max_steps_per_flush: must not be negative"))
	}
	if len(c.Engine.Players) < 2 {
		err = multierr.Append(err, fmt.Errorf("engine.players: need at least two, got %d", len(c.Engine.Players)))
	}
	seen := make(map[string]bool, len(c.Engine.Players))
	for _, p := range c.Engine.Players {
		if p == "" || seen[p] {
			err = multierr.Append(err, fmt.Errorf("engine.players: empty or duplicate id %q", p))
		}
		seen[p] = true
	}
	if c.Engine.DeckSize < 0 || c.Engine.HandSize < 0 {
		err = multierr.Append(err, errors.New("engine: deck_size and hand_size must not be negative"))
	}

	if c.Replay.Directory == "" {
		err = multierr.Append(err, errors.New("replay.directory: must be set"))
	}
	return err
}

// Mode returns the parsed observer dispatch mode.
func (c EngineConfig) Mode() rules.DispatchMode {
	mode, _ := rules.ParseDispatchMode(c.DispatchMode)
	return mode
}
