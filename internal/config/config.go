// Package config loads docsql CLI configuration.
//
// Precedence (highest to lowest): explicitly set flags > DOCSQL_* environment
// variables > docsql.yaml > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of configuration environment variables.
const EnvPrefix = "DOCSQL_"

// Defaults.
const (
	DefaultVault        = "."
	DefaultTimeout      = 30 * time.Second
	DefaultSettingsFile = ".docsql/settings.yaml"
)

// configNames are searched in the working directory when no config file is
// given.
var configNames = []string{"docsql.yaml", "docsql.yml"}

// listKeys hold comma-separated lists when set through the environment.
var listKeys = map[string]bool{"include": true, "exclude": true, "sqlite": true}

// Config is the resolved CLI configuration.
type Config struct {
	// Vault is the document collection root.
	Vault string `koanf:"vault"`
	// SettingsPath is the settings file. Empty means DefaultSettingsFile
	// under Vault.
	SettingsPath string   `koanf:"settings_path"`
	Include      []string `koanf:"include"`
	Exclude      []string `koanf:"exclude"`
	// SQLite lists extra sources as name=path[:table]. CSV and JSON paths
	// are accepted too.
	SQLite []string `koanf:"sqlite"`
	// Format and Strategy override the renderFormat and postRenderStrategy
	// settings when set.
	Format    string        `koanf:"format"`
	Strategy  string        `koanf:"strategy"`
	AllowHTML bool          `koanf:"allow_html"`
	Timeout   time.Duration `koanf:"timeout"`
	Verbose   bool          `koanf:"verbose"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// Load resolves the configuration. cfgFile may be empty; when set it must
// exist. Only flags marked as changed override other layers.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"vault":      DefaultVault,
		"timeout":    DefaultTimeout.String(),
		"verbose":    false,
		"allow_html": false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used, err := findConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// DOCSQL_SETTINGS_PATH -> settings_path
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = used

	// Paths from a config file are relative to that file.
	if used != "" {
		base := filepath.Dir(used)
		if !changed(flags, "vault") && os.Getenv(EnvPrefix+"VAULT") == "" {
			cfg.Vault = resolvePathRelativeTo(cfg.Vault, base)
		}
		if !changed(flags, "settings-path") && os.Getenv(EnvPrefix+"SETTINGS_PATH") == "" {
			cfg.SettingsPath = resolvePathRelativeTo(cfg.SettingsPath, base)
		}
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = filepath.Join(cfg.Vault, DefaultSettingsFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be checked by decoding alone.
func (c *Config) Validate() error {
	var errs []error
	if c.Vault == "" {
		errs = append(errs, errors.New("vault must not be empty"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	for _, s := range c.SQLite {
		if !strings.Contains(s, "=") {
			errs = append(errs, fmt.Errorf("sqlite source %q: want name=path[:table]", s))
		}
	}
	return errors.Join(errs...)
}

func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	for _, name := range configNames {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", nil
}

func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func changed(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
