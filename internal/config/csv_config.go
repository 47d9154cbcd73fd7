package config

import (
	"encoding/csv"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rescale/dndupload/internal/constants"
)

// Config holds the upload settings.
type Config struct {
	// Storage backend: "direct", "s3" or "azure"
	Backend string `toml:"backend"`

	// Direct upload endpoint used when an input carries none
	DirectUploadURL string `toml:"direct_upload_url"`

	// S3 settings. Credentials come from the environment, never from the file.
	S3Bucket   string `toml:"s3_bucket"`
	S3Region   string `toml:"s3_region"`
	S3Prefix   string `toml:"s3_prefix"`
	S3Endpoint string `toml:"s3_endpoint"` // S3-compatible endpoint (MinIO etc.)

	// Azure container URL including its SAS token
	AzureContainerURL string `toml:"azure_container_url"`

	// Files larger than this are rejected before they are queued
	MaxFileSize int64 `toml:"max_file_size"`

	// HTTP retries per request inside one transfer (default: 0)
	MaxRetries int `toml:"max_retries"`

	// Proxy settings
	ProxyMode     string `toml:"proxy_mode"` // "no-proxy", "ntlm", "basic", "system"
	ProxyHost     string `toml:"proxy_host"`
	ProxyPort     int    `toml:"proxy_port"`
	ProxyUser     string `toml:"proxy_user"`
	ProxyPassword string `toml:"-"`
	NoProxy       string `toml:"no_proxy"` // Comma-separated list of hosts to bypass proxy

	// Logging and output
	LogLevel     string `toml:"log_level"`
	ProgressMode string `toml:"progress_mode"` // "bars", "simple", "none"

	// Upload history database; empty disables history
	HistoryPath string `toml:"history_path"`
}

// Progress modes
const (
	ProgressBars   = "bars"
	ProgressSimple = "simple"
	ProgressNone   = "none"
)

// Environment variables read by ApplyEnv
const (
	EnvBackend         = "DNDUPLOAD_BACKEND"
	EnvDirectUploadURL = "DNDUPLOAD_DIRECT_UPLOAD_URL"
	EnvS3AccessKey     = "DNDUPLOAD_S3_ACCESS_KEY"
	EnvS3SecretKey     = "DNDUPLOAD_S3_SECRET_KEY"
	EnvS3SessionToken  = "DNDUPLOAD_S3_SESSION_TOKEN"
	EnvAzureURL        = "DNDUPLOAD_AZURE_CONTAINER_URL"
	EnvProxyPassword   = "DNDUPLOAD_PROXY_PASSWORD"
)

// NewDefault returns the configuration used when no file exists.
func NewDefault() *Config {
	return &Config{
		Backend:      constants.BackendDirect,
		MaxFileSize:  constants.DefaultMaxFileSize,
		ProxyMode:    "no-proxy",
		LogLevel:     "info",
		ProgressMode: ProgressBars,
		HistoryPath:  DefaultHistoryPath(),
	}
}

// LoadConfigCSV loads configuration from a CSV file
// CSV format: key,value pairs
func LoadConfigCSV(path string) (*Config, error) {
	cfg := NewDefault()

	if path == "" {
		return cfg, nil
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // Return defaults if config doesn't exist
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read config CSV: %w", err)
	}

	// Parse key-value pairs
	for i, record := range records {
		if i == 0 {
			// Skip header row if it looks like a header
			if len(record) >= 2 && strings.ToLower(record[0]) == "key" {
				continue
			}
		}

		if len(record) < 2 {
			continue
		}

		key := strings.TrimSpace(strings.ToLower(record[0]))
		value := strings.TrimSpace(record[1])

		switch key {
		case "backend":
			cfg.Backend = strings.ToLower(value)
		case "direct_upload_url":
			cfg.DirectUploadURL = value
		case "s3_bucket":
			cfg.S3Bucket = value
		case "s3_region":
			cfg.S3Region = value
		case "s3_prefix":
			cfg.S3Prefix = value
		case "s3_endpoint":
			cfg.S3Endpoint = value
		case "azure_container_url":
			cfg.AzureContainerURL = value
		case "max_file_size":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				cfg.MaxFileSize = v
			}
		case "max_retries":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.MaxRetries = v
			}
		case "proxy_mode":
			cfg.ProxyMode = value
		case "proxy_host":
			cfg.ProxyHost = value
		case "proxy_port":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.ProxyPort = v
			}
		case "proxy_user":
			cfg.ProxyUser = value
		case "proxy_password":
			// SECURITY: passwords come from DNDUPLOAD_PROXY_PASSWORD only
			if value != "" {
				log.Warn().Msgf("proxy_password in config file is ignored for security - use %s", EnvProxyPassword)
			}
		case "no_proxy":
			cfg.NoProxy = value
		case "log_level":
			cfg.LogLevel = value
		case "progress_mode":
			cfg.ProgressMode = strings.ToLower(value)
		case "history_path":
			cfg.HistoryPath = value
		}
	}

	return cfg, nil
}

// SaveConfigCSV saves configuration to a CSV file
// CSV format: key,value pairs
func SaveConfigCSV(cfg *Config, path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	// Write header
	if err := writer.Write([]string{"key", "value"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// SECURITY: proxy_password and S3 keys are intentionally NOT saved
	for _, record := range cfg.records() {
		// Only write non-empty values to keep file clean
		if record[1] != "" && record[1] != "0" {
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write config CSV: %w", err)
	}
	return nil
}

// records lists the persisted settings in file order.
func (c *Config) records() [][]string {
	return [][]string{
		{"backend", c.Backend},
		{"direct_upload_url", c.DirectUploadURL},
		{"s3_bucket", c.S3Bucket},
		{"s3_region", c.S3Region},
		{"s3_prefix", c.S3Prefix},
		{"s3_endpoint", c.S3Endpoint},
		{"azure_container_url", c.AzureContainerURL},
		{"max_file_size", strconv.FormatInt(c.MaxFileSize, 10)},
		{"max_retries", strconv.Itoa(c.MaxRetries)},
		{"proxy_mode", c.ProxyMode},
		{"proxy_host", c.ProxyHost},
		{"proxy_port", strconv.Itoa(c.ProxyPort)},
		{"proxy_user", c.ProxyUser},
		{"no_proxy", c.NoProxy},
		{"log_level", c.LogLevel},
		{"progress_mode", c.ProgressMode},
		{"history_path", c.HistoryPath},
	}
}

// Entries returns the persisted settings as key/value pairs, with the Azure
// SAS token redacted. Used by "config show".
func (c *Config) Entries() [][2]string {
	var out [][2]string
	for _, r := range c.records() {
		value := r[1]
		if r[0] == "azure_container_url" {
			value = redactQuery(value)
		}
		out = append(out, [2]string{r[0], value})
	}
	return out
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBackend); v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvDirectUploadURL); v != "" {
		c.DirectUploadURL = v
	}
	if v := os.Getenv(EnvAzureURL); v != "" {
		c.AzureContainerURL = v
	}
	if v := os.Getenv(EnvProxyPassword); v != "" {
		c.ProxyPassword = v
	}
	if envProxy := os.Getenv("HTTPS_PROXY"); envProxy != "" && c.ProxyHost == "" {
		c.parseProxyURL(envProxy)
	}
}

// parseProxyURL parses a proxy URL from environment variable
func (c *Config) parseProxyURL(proxyURL string) {
	// Simple parsing for http://host:port or https://host:port
	proxyURL = strings.TrimPrefix(proxyURL, "http://")
	proxyURL = strings.TrimPrefix(proxyURL, "https://")

	parts := strings.Split(proxyURL, ":")
	if len(parts) >= 1 {
		c.ProxyHost = parts[0]
	}
	if len(parts) >= 2 {
		if port, err := strconv.Atoi(strings.TrimSuffix(parts[1], "/")); err == nil {
			c.ProxyPort = port
		}
	}
	if c.ProxyHost != "" && (c.ProxyMode == "no-proxy" || c.ProxyMode == "") {
		c.ProxyMode = "system"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend {
	case constants.BackendDirect:
	case constants.BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("s3_bucket is required for the s3 backend")
		}
		if c.S3Region == "" {
			return fmt.Errorf("s3_region is required for the s3 backend")
		}
	case constants.BackendAzure:
		if c.AzureContainerURL == "" {
			return fmt.Errorf("azure_container_url is required for the azure backend")
		}
		if _, err := url.Parse(c.AzureContainerURL); err != nil {
			return fmt.Errorf("invalid azure_container_url: %w", err)
		}
	default:
		return fmt.Errorf("unsupported backend: %q", c.Backend)
	}

	if c.DirectUploadURL != "" {
		if u, err := url.Parse(c.DirectUploadURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("direct_upload_url must be an absolute URL")
		}
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}

	switch strings.ToLower(c.ProxyMode) {
	case "", "no-proxy", "system":
	case "basic", "ntlm":
		if c.ProxyHost == "" {
			return fmt.Errorf("proxy_host is required for proxy mode %s", c.ProxyMode)
		}
	default:
		return fmt.Errorf("unsupported proxy mode: %s", c.ProxyMode)
	}

	switch c.ProgressMode {
	case "", ProgressBars, ProgressSimple, ProgressNone:
	default:
		return fmt.Errorf("unsupported progress_mode: %s", c.ProgressMode)
	}
	return nil
}

func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	u.RawQuery = "REDACTED"
	return u.String()
}
