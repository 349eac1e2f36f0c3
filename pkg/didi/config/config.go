// Package config loads the bot configuration: config.yaml with ${VAR}
// expansion, .env files, and the Discord token from the OS keyring.
package config

import (
	"time"

	"github.com/jholhewres/didicogs/pkg/didi/channels/discord"
	"github.com/jholhewres/didicogs/pkg/didi/cogs/apod"
	"github.com/jholhewres/didicogs/pkg/didi/cogs/nekos"
	"github.com/jholhewres/didicogs/pkg/didi/gemini"
	"github.com/jholhewres/didicogs/pkg/didi/metrics"
	"github.com/jholhewres/didicogs/pkg/didi/settings"
)

// Config is the top-level configuration.
type Config struct {
	// Name is the bot name used in logs and metrics.
	Name string `yaml:"name"`

	// Prefixes are the command prefixes (e.g. "?", "!").
	Prefixes []string `yaml:"prefixes"`

	// Owners are user IDs allowed to run owner-only commands.
	Owners []string `yaml:"owners"`

	Discord  discord.Config  `yaml:"discord"`
	Settings settings.Config `yaml:"settings"`
	Gemini   gemini.Config   `yaml:"gemini"`
	APOD     apod.Config     `yaml:"apod"`
	Nekos    nekos.Config    `yaml:"nekos"`
	Metrics  metrics.Config  `yaml:"metrics"`
	HTTP     HTTPConfig      `yaml:"http"`
	Timeouts TimeoutConfig   `yaml:"timeouts"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// HTTPConfig configures the client shared by every cog.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// TimeoutConfig bounds background work.
type TimeoutConfig struct {
	// ScheduledPost bounds one daily post.
	ScheduledPost time.Duration `yaml:"scheduled_post"`

	// WizardStep is how long a setup wizard waits for each answer.
	WizardStep time.Duration `yaml:"wizard_step"`

	// Shutdown bounds graceful shutdown.
	Shutdown time.Duration `yaml:"shutdown"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Name:     "didi",
		Prefixes: []string{"?"},
		Discord:  discord.DefaultConfig(),
		Settings: settings.DefaultConfig(),
		Gemini: gemini.Config{
			BaseURL: gemini.DefaultBaseURL,
			Model:   gemini.DefaultModel,
			Timeout: gemini.DefaultTimeout,
		},
		Metrics: metrics.DefaultConfig(),
		HTTP:    HTTPConfig{Timeout: 60 * time.Second},
		Timeouts: TimeoutConfig{
			ScheduledPost: 2 * time.Minute,
			WizardStep:    2 * time.Minute,
			Shutdown:      15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}
