package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/didicogs/pkg/didi/config"
)

// newConfigCmd creates the `didi config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the bot configuration",
		Long: `Create, inspect and manage the bot configuration and its Discord token.

Examples:
  didi config init
  didi config show
  didi config token set`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigTokenCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = defaultConfigPath
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Printf("Configuration created at %s\n", path)
			fmt.Printf("Set the Discord token with 'didi config token set' or %s.\n", config.TokenEnv)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			source := config.ResolveToken(cfg, nil)

			shown := *cfg
			shown.Discord.Token = maskSecret(cfg.Discord.Token)
			shown.Settings.DSN = maskDSN(cfg.Settings.DSN)
			out, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			fmt.Printf("# discord token source: %s\n", source)
			return nil
		},
	}
}

func newConfigTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the Discord token in the OS keyring",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Store the Discord token in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !config.KeyringAvailable() {
				return fmt.Errorf("no OS keyring available; export %s instead", config.TokenEnv)
			}
			var token string
			err := huh.NewInput().
				Title("Discord bot token").
				EchoMode(huh.EchoModePassword).
				Validate(notBlank("token")).
				Value(&token).
				Run()
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := config.StoreToken(strings.TrimSpace(token)); err != nil {
				return fmt.Errorf("storing token: %w", err)
			}
			fmt.Println("Discord token stored in the OS keyring.")
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the Discord token from the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.DeleteToken(); err != nil {
				return fmt.Errorf("deleting token: %w", err)
			}
			fmt.Println("Discord token removed from the OS keyring.")
			return nil
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}

// maskSecret keeps the last four characters of a secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// maskDSN hides the password of a connection string.
func maskDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	if user, _, hasPass := strings.Cut(userinfo, ":"); hasPass {
		return scheme + "://" + user + ":****@" + host
	}
	return dsn
}
