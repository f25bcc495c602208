// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when no explicit path is
// given.
const EnvironmentVariable = "BENEDICTE_CONFIG"

// DefaultPageSize is the number of events fetched per backward
// pagination pass.
const DefaultPageSize = 20

// Compression values for Analytics.Compression.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Config is the complete client configuration.
type Config struct {
	Homeserver  HomeserverConfig  `yaml:"homeserver"`
	Auth        AuthConfig        `yaml:"auth"`
	Pagination  PaginationConfig  `yaml:"pagination"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Logging     LoggingConfig     `yaml:"logging"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// HomeserverConfig selects the Matrix homeserver.
type HomeserverConfig struct {
	// ServerName is the host used for password login
	// (e.g., "matrix.example.org").
	ServerName string `yaml:"server_name"`

	// BaseURL overrides the URL derived from the server name. When
	// empty, clients use https://<server name>.
	BaseURL string `yaml:"base_url"`
}

// AuthConfig configures the external-token login flow.
type AuthConfig struct {
	// TokenExchangeURL is the identity provider endpoint that trades
	// an external bearer token for Matrix credentials.
	TokenExchangeURL string `yaml:"token_exchange_url"`

	// TokenExchangeHeaders are sent with every token exchange request
	// in addition to the Authorization header.
	TokenExchangeHeaders map[string]string `yaml:"token_exchange_headers"`
}

// PaginationConfig controls history loading.
type PaginationConfig struct {
	PageSize int `yaml:"page_size"`
}

// AnalyticsConfig configures the instrumentation spool.
type AnalyticsConfig struct {
	// Key is forwarded verbatim with every recorded batch.
	Key string `yaml:"key"`

	// SpoolPath is the file instrumentation batches are appended to.
	// Empty disables recording.
	SpoolPath string `yaml:"spool_path"`

	// Compression is one of "none", "zstd", or "lz4".
	Compression string `yaml:"compression"`

	// FlushThreshold is the number of recorded calls buffered before a
	// batch is written.
	FlushThreshold int `yaml:"flush_threshold"`
}

// AttachmentsConfig controls media transfers.
type AttachmentsConfig struct {
	// DownloadDir is the destination directory for downloads that do
	// not name an explicit path.
	DownloadDir string `yaml:"download_dir"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is an slog level name: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "auto" (text on a terminal, JSON otherwise), "text",
	// or "json".
	Format string `yaml:"format"`
}

// HTTPConfig controls the REST transport.
type HTTPConfig struct {
	// Timeout bounds each REST request. The /sync long-poll adds its
	// own server-side timeout on top of this.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration values used for fields the file
// does not set, with ${HOME} expanded.
func Default() *Config {
	cfg := &Config{
		Auth: AuthConfig{
			TokenExchangeHeaders: map[string]string{"typeAuth": "/individu"},
		},
		Pagination: PaginationConfig{PageSize: DefaultPageSize},
		Analytics: AnalyticsConfig{
			Compression:    CompressionZstd,
			FlushThreshold: 64,
		},
		Attachments: AttachmentsConfig{
			DownloadDir: "${HOME}/Downloads",
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		HTTP:    HTTPConfig{Timeout: 60 * time.Second},
	}
	cfg.expandVariables()
	return cfg
}

// Load loads the file named by BENEDICTE_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your benedicte.yaml config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, layered over Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so once comments and trailing
		// commas are stripped the YAML decoder handles both forms.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Analytics.SpoolPath = expandVars(c.Analytics.SpoolPath, vars)
	c.Attachments.DownloadDir = expandVars(c.Attachments.DownloadDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, consulting vars before
// the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// HomeserverURL returns the base URL for the configured homeserver.
func (c *Config) HomeserverURL() string {
	if c.Homeserver.BaseURL != "" {
		return strings.TrimSuffix(c.Homeserver.BaseURL, "/")
	}
	if c.Homeserver.ServerName == "" {
		return ""
	}
	return "https://" + c.Homeserver.ServerName
}

// SlogLevel parses Logging.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver.BaseURL != "" {
		parsed, err := url.Parse(c.Homeserver.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("homeserver.base_url %q is not an absolute URL", c.Homeserver.BaseURL))
		}
	}
	if strings.ContainsAny(c.Homeserver.ServerName, "/ ") {
		errs = append(errs, fmt.Errorf("homeserver.server_name %q must be a bare host name", c.Homeserver.ServerName))
	}

	if c.Auth.TokenExchangeURL != "" {
		parsed, err := url.Parse(c.Auth.TokenExchangeURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("auth.token_exchange_url %q is not an absolute URL", c.Auth.TokenExchangeURL))
		}
	}

	if c.Pagination.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("pagination.page_size must be positive, got %d", c.Pagination.PageSize))
	}

	switch c.Analytics.Compression {
	case CompressionNone, CompressionZstd, CompressionLZ4:
	default:
		errs = append(errs, fmt.Errorf("analytics.compression must be one of: none, zstd, lz4 (got %q)", c.Analytics.Compression))
	}
	if c.Analytics.FlushThreshold <= 0 {
		errs = append(errs, fmt.Errorf("analytics.flush_threshold must be positive, got %d", c.Analytics.FlushThreshold))
	}

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be one of: auto, text, json (got %q)", c.Logging.Format))
	}

	if c.HTTP.Timeout < 0 {
		errs = append(errs, fmt.Errorf("http.timeout must not be negative"))
	}

	return errors.Join(errs...)
}
