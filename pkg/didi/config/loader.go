package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/didicogs/pkg/didi/settings"
)

// TokenEnv is the environment variable holding the Discord token.
const TokenEnv = "DIDI_DISCORD_TOKEN"

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// ErrMissingEnv is returned when a ${VAR:?message} reference is unset.
var ErrMissingEnv = errors.New("required environment variable not set")

// Load reads path, expands environment references and resolves the Discord
// token. .env and .env.local are loaded first without overriding the
// process environment.
func Load(path string, logger *slog.Logger) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, err
	}
	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}
	resolveRelativePaths(cfg, path)
	ResolveToken(cfg, logger)
	checkFilePermissions(path, logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse overlays YAML onto Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if len(c.Prefixes) == 0 {
		return errors.New("config: at least one command prefix is required")
	}
	for _, p := range c.Prefixes {
		if strings.TrimSpace(p) == "" {
			return errors.New("config: empty command prefix")
		}
	}
	switch c.Settings.Backend {
	case "", settings.BackendSQLite:
		if c.Settings.Path == "" {
			return errors.New("config: settings.path is required for sqlite")
		}
	case settings.BackendPostgres:
		if c.Settings.DSN == "" {
			return errors.New("config: settings.dsn is required for postgresql")
		}
	default:
		return fmt.Errorf("config: unknown settings backend %q", c.Settings.Backend)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}
	return nil
}

// Save writes cfg as YAML with owner-only permissions. A literal token is
// replaced by a reference to TokenEnv, and the previous file is kept as
// path.bak.
func Save(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Discord.Token = "${" + TokenEnv + "}"

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Find returns the first config file present in the standard locations.
func Find() string {
	for _, path := range []string{
		"config.yaml",
		"config.yml",
		"didi.yaml",
		"configs/config.yaml",
		"configs/didi.yaml",
	} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ExpandEnv replaces ${VAR}, ${VAR:-default} and ${VAR:?message}. Unset
// plain references are left in place; an unset ${VAR:?message} is an error.
func ExpandEnv(input string) (string, error) {
	var missing error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, modifier, value := m[1], m[2], m[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if missing == nil {
				if value == "" {
					value = "required"
				}
				missing = fmt.Errorf("%w: %s: %s", ErrMissingEnv, name, value)
			}
		}
		return match
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// IsEnvReference reports whether s is an unexpanded ${VAR} reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}")
}

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// resolveRelativePaths anchors the SQLite path at the config file's
// directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	p := cfg.Settings.Path
	if p == "" {
		return
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Settings.Path = filepath.Join(home, p[2:])
		}
		return
	}
	if !filepath.IsAbs(p) {
		cfg.Settings.Path = filepath.Join(filepath.Dir(configPath), p)
	}
}

func checkFilePermissions(path string, logger *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil || logger == nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		logger.Warn("config file is readable by other users",
			"path", path, "mode", fmt.Sprintf("%04o", info.Mode().Perm()), "hint", "chmod 600 "+path)
	}
}
