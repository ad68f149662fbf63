// ABOUTME: Configuration loading for the dialog-chat terminal client
// ABOUTME: Loads TOML config from an XDG path with environment variable expansion

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variables consulted when the config file leaves a field empty.
const (
	envConfigPath = "DIALOG_CHAT_CONFIG"
	envServerURL  = "DIALOG_RELAY_URL"
	envToken      = "DIALOG_RELAY_TOKEN"
)

const defaultServerURL = "http://127.0.0.1:8080"

type Config struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`
	Model     string `toml:"model"`
}

// defaultConfigPath returns $DIALOG_CHAT_CONFIG or
// $XDG_CONFIG_HOME/dialog-relay/chat.toml.
func defaultConfigPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "chat.toml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "dialog-relay", "chat.toml")
}

// LoadConfig reads the config at path. A missing file at the default
// location is not an error; the environment can supply everything.
// Non-empty fields of overrides win over both.
func LoadConfig(path string, explicit bool, overrides Config) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if overrides.ServerURL != "" {
		cfg.ServerURL = overrides.ServerURL
	}
	if overrides.Token != "" {
		cfg.Token = overrides.Token
	}
	if overrides.Model != "" {
		cfg.Model = overrides.Model
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = os.Getenv(envServerURL)
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv(envToken)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url must use http or https scheme")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required (set token in the config or %s)", envToken)
	}
	return nil
}
