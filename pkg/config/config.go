// Copyright 2024-2026 Aiku AI

// Package config loads the bot configuration. The embedded example config
// provides defaults, a YAML file overrides them and MMBOT_ environment
// variables override both.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the full bot configuration.
type Config struct {
	Bot         BotConfig        `yaml:"bot"`
	Mattermost  MattermostConfig `yaml:"mattermost"`
	Session     SessionConfig    `yaml:"session"`
	Database    DatabaseConfig   `yaml:"database"`
	Liveness    LivenessConfig   `yaml:"liveness"`
	Directories []string         `yaml:"directories"`
	Logging     LoggingConfig    `yaml:"logging"`

	location *time.Location `yaml:"-"`
}

type BotConfig struct {
	Name      string   `yaml:"name"`
	Prefix    string   `yaml:"prefix"`
	Mode      string   `yaml:"mode"`
	OwnerName string   `yaml:"owner_name"`
	Owners    []string `yaml:"owners"`
	Timezone  string   `yaml:"timezone"`
	RepoURL   string   `yaml:"repo_url"`
}

type MattermostConfig struct {
	ServerURL string `yaml:"server_url"`
	LoginID   string `yaml:"login_id"`
	Password  string `yaml:"password"`
}

type SessionConfig struct {
	Dir       string `yaml:"dir"`
	Bootstrap string `yaml:"bootstrap"`
}

type DatabaseConfig struct {
	Type         string `yaml:"type"`
	URI          string `yaml:"uri"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type LivenessConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr is the listen address of the liveness server.
func (l LivenessConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

type LoggingConfig struct {
	MinLevel string `yaml:"min_level"`
	Format   string `yaml:"format"`
	Writer   string `yaml:"writer"`
}

// Default decodes the embedded example config.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	return &cfg, nil
}

// Location returns the parsed bot timezone. Only valid after PostProcess.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Private reports whether the bot answers owners only.
func (c *Config) Private() bool {
	return c.Bot.Mode == "private"
}

// PostProcess applies legacy environment fallbacks, normalizes values and
// validates the result.
func (c *Config) PostProcess() error {
	if c.Session.Bootstrap == "" {
		c.Session.Bootstrap = os.Getenv("SESSION_ID")
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"LIVENESS__PORT") == "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Liveness.Port = p
	}

	c.Bot.Owners = normalizeOwners(splitList(c.Bot.Owners))
	c.Directories = splitList(c.Directories)
	c.Mattermost.ServerURL = strings.TrimRight(c.Mattermost.ServerURL, "/")
	c.Bot.Mode = strings.ToLower(strings.TrimSpace(c.Bot.Mode))

	var errs []error
	if c.Bot.Prefix == "" {
		errs = append(errs, errors.New("bot.prefix must not be empty"))
	}
	if c.Bot.Mode != "public" && c.Bot.Mode != "private" {
		errs = append(errs, fmt.Errorf("bot.mode must be public or private, got %q", c.Bot.Mode))
	}
	loc, err := time.LoadLocation(c.Bot.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("bot.timezone: %w", err))
	}
	c.location = loc
	if c.Mattermost.ServerURL == "" {
		errs = append(errs, errors.New("mattermost.server_url must be set"))
	}
	if c.Session.Dir == "" {
		errs = append(errs, errors.New("session.dir must be set"))
	}
	if c.Database.Type != "sqlite3" && c.Database.Type != "postgres" {
		errs = append(errs, fmt.Errorf("database.type must be sqlite3 or postgres, got %q", c.Database.Type))
	}
	if c.Liveness.Port < 1 || c.Liveness.Port > 65535 {
		errs = append(errs, fmt.Errorf("liveness.port out of range: %d", c.Liveness.Port))
	}
	return errors.Join(errs...)
}

// splitList flattens comma-separated entries, which is how list values
// arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// normalizeOwners lowercases "@username" entries. Mattermost usernames are
// case-insensitive and senders are matched in lowercase.
func normalizeOwners(owners []string) []string {
	for i, owner := range owners {
		if strings.HasPrefix(owner, "@") {
			owners[i] = strings.ToLower(owner)
		}
	}
	return owners
}
