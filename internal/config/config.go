// Package config provides configuration loading and structs for the tsunagu server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Intercom IntercomConfig `yaml:"intercom"`
	Kare     KareConfig     `yaml:"kare"`
	GitHub   GitHubConfig   `yaml:"github"`
	Site     SiteConfig     `yaml:"site"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Sync     SyncConfig     `yaml:"sync"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// WatchConfig reloads job intervals when the config file changes.
	WatchConfig bool `yaml:"watch_config"`
}

// StorageConfig holds paths for the run database and the help index.
type StorageConfig struct {
	DatabasePath  string `yaml:"database_path"`
	HelpIndexPath string `yaml:"help_index_path"`
}

// IntercomConfig holds contact directory settings.
type IntercomConfig struct {
	BaseURL   string  `yaml:"base_url"`
	Token     string  `yaml:"token"`
	BotID     string  `yaml:"bot_id"`
	RateLimit float64 `yaml:"rate_limit"`
}

// KareConfig holds knowledge store settings.
type KareConfig struct {
	BaseURL      string  `yaml:"base_url"`
	ClientID     string  `yaml:"client_id"`
	ClientSecret string  `yaml:"client_secret"`
	Locale       string  `yaml:"locale"`
	PageSize     int     `yaml:"page_size"`
	RateLimit    float64 `yaml:"rate_limit"`
}

// GitHubConfig holds issue tracker settings.
type GitHubConfig struct {
	BaseURL      string `yaml:"base_url"`
	Token        string `yaml:"token"`
	SiteRepo     string `yaml:"site_repo"`
	FeedbackRepo string `yaml:"feedback_repo"`
}

// SiteConfig describes the help site that is crawled.
type SiteConfig struct {
	Origin           string   `yaml:"origin"`
	SitemapPath      string   `yaml:"sitemap_path"`
	Segment          string   `yaml:"segment"`
	ExcludedSuffixes []string `yaml:"excluded_suffixes"`
	ContentClass     string   `yaml:"content_class"`
	TitleSuffix      string   `yaml:"title_suffix"`
	// Concurrency is the number of help pages fetched at once.
	Concurrency int `yaml:"concurrency"`
	// AllowedOrigin is the prefix feedback requests must come from. Defaults to Origin.
	AllowedOrigin string `yaml:"allowed_origin"`
}

// DedupeConfig holds duplicate reconciliation settings.
type DedupeConfig struct {
	PageSize       int           `yaml:"page_size"`
	ActivityWindow time.Duration `yaml:"activity_window"`
	// Interval between scheduled runs. A negative value disables the schedule.
	Interval time.Duration `yaml:"interval"`
}

// SyncConfig holds knowledge sync settings.
type SyncConfig struct {
	// Interval between scheduled runs. A negative value disables the schedule.
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the config file at path, applies environment overrides,
// expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	lookup, err := DotEnvLookup(filepath.Join(configDir, ".env"))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.HelpIndexPath = expandPath(cfg.Storage.HelpIndexPath, configDir)

	return &cfg, nil
}

// FromEnv builds a config from defaults and the environment alone, for deployments
// without a config file. A .env file in the working directory is read as well.
func FromEnv() (*Config, error) {
	var cfg Config
	lookup, err := DotEnvLookup(".env")
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
