package config

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "didi"
	keyringToken   = "discord_token"
)

// StoreToken saves the Discord token in the OS keyring.
func StoreToken(token string) error {
	return keyring.Set(keyringService, keyringToken, token)
}

// DeleteToken removes the Discord token from the OS keyring.
func DeleteToken() error {
	return keyring.Delete(keyringService, keyringToken)
}

// KeyringAvailable reports whether the OS keyring accepts writes.
func KeyringAvailable() bool {
	const probe = "__didi_probe__"
	if err := keyring.Set(keyringService, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

// TokenSource names where ResolveToken found the token.
type TokenSource string

const (
	SourceKeyring TokenSource = "keyring"
	SourceEnv     TokenSource = "env"
	SourceConfig  TokenSource = "config"
	SourceNone    TokenSource = "none"
)

// ResolveToken fills cfg.Discord.Token from, in order: the OS keyring,
// DIDI_DISCORD_TOKEN (or DISCORD_TOKEN), then the config value itself.
func ResolveToken(cfg *Config, logger *slog.Logger) TokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	if val, err := keyring.Get(keyringService, keyringToken); err == nil && val != "" {
		cfg.Discord.Token = val
		logger.Debug("discord token loaded from OS keyring")
		return SourceKeyring
	}
	for _, name := range []string{TokenEnv, "DISCORD_TOKEN"} {
		if val := os.Getenv(name); val != "" {
			cfg.Discord.Token = val
			logger.Debug("discord token loaded from environment", "var", name)
			return SourceEnv
		}
	}
	if cfg.Discord.Token != "" && !IsEnvReference(cfg.Discord.Token) {
		logger.Warn("discord token is stored in plain text in the config file",
			"hint", "run 'didi setup' to move it to the OS keyring")
		return SourceConfig
	}
	cfg.Discord.Token = ""
	return SourceNone
}
