package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/didicogs/pkg/didi/bot"
	"github.com/jholhewres/didicogs/pkg/didi/channels/discord"
	"github.com/jholhewres/didicogs/pkg/didi/config"
)

// newServeCmd creates the `didi serve` command that connects to Discord.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and run the cogs",
		Long: `Start didi as a long-running service: connect to Discord, re-arm the
daily APOD schedules and process commands until SIGINT or SIGTERM.

Examples:
  didi serve
  didi serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	if cfg.Discord.Token == "" {
		return fmt.Errorf("no Discord token: run 'didi setup' or set %s", config.TokenEnv)
	}

	b, err := bot.New(cfg, discord.New(cfg.Discord, logger), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		_ = b.Stop(context.Background())
		return fmt.Errorf("failed to start: %w", err)
	}
	logger.Info("didi running. Press Ctrl+C to stop.", "name", cfg.Name, "prefixes", cfg.Prefixes)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()
	if err := b.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown finished with errors", "error", err)
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("shutdown timed out, forcing exit", "timeout", cfg.Timeouts.Shutdown)
	}
	return nil
}

// resolveConfig loads the --config file or the first one Find discovers.
// With no file and an interactive terminal it offers to run setup.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	return cfg, nil
}

// configPath returns the config file to use, running setup when none exists.
func configPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" {
		return path, nil
	}
	if found := config.Find(); found != "" {
		return found, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no configuration file found: run 'didi setup' or 'didi config init'")
	}
	runSetupNow := true
	err := huh.NewConfirm().
		Title("No configuration file found. Run setup now?").
		Affirmative("Yes").
		Negative("No").
		Value(&runSetupNow).
		Run()
	if err != nil {
		return "", err
	}
	if !runSetupNow {
		return "", errors.New("configuration required before starting")
	}
	if err := runInteractiveSetup(defaultConfigPath); err != nil {
		return "", fmt.Errorf("setup: %w", err)
	}
	return defaultConfigPath, nil
}

// newLogger builds the process logger from the config and --verbose.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := config.NewLogger(cfg.Logging, verbose, os.Stdout)
	slog.SetDefault(logger)
	return logger
}
