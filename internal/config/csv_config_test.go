package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rescale/dndupload/internal/constants"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigCSV(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "s3 config",
			content: "key,value\n" +
				"backend,S3\n" +
				"s3_bucket,uploads\n" +
				"s3_region,eu-west-1\n" +
				"s3_prefix,incoming/\n" +
				"max_file_size,1048576\n" +
				"max_retries,2\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Backend != constants.BackendS3 {
					t.Errorf("Backend = %q, want %q", cfg.Backend, constants.BackendS3)
				}
				if cfg.S3Bucket != "uploads" || cfg.S3Region != "eu-west-1" || cfg.S3Prefix != "incoming/" {
					t.Errorf("Unexpected S3 settings: %+v", cfg)
				}
				if cfg.MaxFileSize != 1048576 {
					t.Errorf("MaxFileSize = %d, want 1048576", cfg.MaxFileSize)
				}
				if cfg.MaxRetries != 2 {
					t.Errorf("MaxRetries = %d, want 2", cfg.MaxRetries)
				}
			},
		},
		{
			name:    "no header and unknown keys",
			content: "direct_upload_url,https://app.example.com/rails/active_storage/direct_uploads\nflavour,vanilla\nlonely\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.DirectUploadURL != "https://app.example.com/rails/active_storage/direct_uploads" {
					t.Errorf("DirectUploadURL = %q", cfg.DirectUploadURL)
				}
				if cfg.Backend != constants.BackendDirect {
					t.Errorf("Backend should default to direct, got %q", cfg.Backend)
				}
			},
		},
		{
			name:    "proxy password ignored",
			content: "proxy_mode,basic\nproxy_host,proxy.corp\nproxy_port,3128\nproxy_user,alice\nproxy_password,hunter2\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.ProxyPassword != "" {
					t.Error("proxy_password must not be read from the file")
				}
				if cfg.ProxyPort != 3128 || cfg.ProxyUser != "alice" {
					t.Errorf("Unexpected proxy settings: %+v", cfg)
				}
			},
		},
		{
			name:    "bad numbers keep defaults",
			content: "max_file_size,lots\nmax_retries,many\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.MaxFileSize != constants.DefaultMaxFileSize {
					t.Errorf("MaxFileSize = %d, want default", cfg.MaxFileSize)
				}
				if cfg.MaxRetries != 0 {
					t.Errorf("MaxRetries = %d, want 0", cfg.MaxRetries)
				}
			},
		},
		{
			name:    "malformed csv",
			content: "backend,\"direct\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfigCSV(writeFile(t, "config.csv", tt.content))
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfigCSV() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadConfigCSV_MissingFile(t *testing.T) {
	cfg, err := LoadConfigCSV(filepath.Join(t.TempDir(), "nonexistent.csv"))
	if err != nil {
		t.Fatalf("Missing file should yield defaults, got %v", err)
	}
	if cfg.Backend != constants.BackendDirect || cfg.ProgressMode != ProgressBars {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}

	if cfg, err := LoadConfigCSV(""); err != nil || cfg == nil {
		t.Errorf("Empty path should yield defaults, got %v", err)
	}
}

func TestSaveConfigCSV_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.csv")

	cfg := NewDefault()
	cfg.Backend = constants.BackendAzure
	cfg.AzureContainerURL = "https://acct.blob.core.windows.net/uploads?sv=2024&sig=secret"
	cfg.ProxyMode = "ntlm"
	cfg.ProxyHost = "proxy.corp"
	cfg.ProxyPassword = "hunter2"

	if err := SaveConfigCSV(cfg, path); err != nil {
		t.Fatalf("SaveConfigCSV() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Error("Saved config must not contain the proxy password")
	}
	if strings.Contains(string(data), "proxy_port") {
		t.Error("Zero values should be omitted")
	}

	loaded, err := LoadConfigCSV(path)
	if err != nil {
		t.Fatalf("LoadConfigCSV() error = %v", err)
	}
	if loaded.Backend != cfg.Backend || loaded.AzureContainerURL != cfg.AzureContainerURL ||
		loaded.ProxyMode != cfg.ProxyMode || loaded.ProxyHost != cfg.ProxyHost {
		t.Errorf("Round trip mismatch: saved %+v, loaded %+v", cfg, loaded)
	}
}

func TestLoadAndSave_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
backend = "s3"
s3_bucket = "media"
s3_region = "us-east-2"
progress_mode = "SIMPLE"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend != constants.BackendS3 || cfg.S3Bucket != "media" || cfg.S3Region != "us-east-2" {
		t.Errorf("Unexpected TOML settings: %+v", cfg)
	}
	if cfg.ProgressMode != ProgressSimple {
		t.Errorf("ProgressMode = %q, want %q", cfg.ProgressMode, ProgressSimple)
	}
	if cfg.MaxFileSize != constants.DefaultMaxFileSize {
		t.Error("Unset TOML keys should keep their defaults")
	}

	cfg.S3Prefix = "drops/"
	cfg.ProxyPassword = "secret"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "secret") {
		t.Error("TOML output must not contain the proxy password")
	}

	again, err := LoadConfigTOML(path)
	if err != nil {
		t.Fatalf("LoadConfigTOML() error = %v", err)
	}
	if again.S3Prefix != "drops/" {
		t.Errorf("S3Prefix = %q after round trip", again.S3Prefix)
	}
}

func TestLoadConfigTOML_Invalid(t *testing.T) {
	path := writeFile(t, "config.toml", "backend = [unterminated")
	if _, err := LoadConfigTOML(path); err == nil {
		t.Error("Expected a parse error")
	}
}

func TestSave_ConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.csv")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- Save(NewDefault(), path)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Save() error = %v", err)
		}
	}
	if _, err := LoadConfigCSV(path); err != nil {
		t.Errorf("Config should be readable after concurrent saves: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvBackend, "AZURE")
	t.Setenv(EnvAzureURL, "https://acct.blob.core.windows.net/c?sig=x")
	t.Setenv(EnvProxyPassword, "pw")
	t.Setenv("HTTPS_PROXY", "http://proxy.corp:3128")

	cfg := NewDefault()
	cfg.ApplyEnv()

	if cfg.Backend != constants.BackendAzure {
		t.Errorf("Backend = %q, want azure", cfg.Backend)
	}
	if cfg.ProxyPassword != "pw" {
		t.Error("Proxy password should come from the environment")
	}
	if cfg.ProxyHost != "proxy.corp" || cfg.ProxyPort != 3128 || cfg.ProxyMode != "system" {
		t.Errorf("Unexpected proxy from HTTPS_PROXY: %s:%d (%s)", cfg.ProxyHost, cfg.ProxyPort, cfg.ProxyMode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "ftp" }, "unsupported backend"},
		{"s3 without bucket", func(c *Config) { c.Backend = constants.BackendS3; c.S3Region = "x" }, "s3_bucket"},
		{"s3 without region", func(c *Config) { c.Backend = constants.BackendS3; c.S3Bucket = "b" }, "s3_region"},
		{"azure without url", func(c *Config) { c.Backend = constants.BackendAzure }, "azure_container_url"},
		{"relative direct url", func(c *Config) { c.DirectUploadURL = "/rails/active_storage/direct_uploads" }, "absolute"},
		{"zero max size", func(c *Config) { c.MaxFileSize = 0 }, "max_file_size"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
		{"ntlm without host", func(c *Config) { c.ProxyMode = "ntlm" }, "proxy_host"},
		{"bad proxy mode", func(c *Config) { c.ProxyMode = "socks" }, "proxy mode"},
		{"bad progress mode", func(c *Config) { c.ProgressMode = "fancy" }, "progress_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEntries_RedactsSAS(t *testing.T) {
	cfg := NewDefault()
	cfg.AzureContainerURL = "https://acct.blob.core.windows.net/c?sig=secret"

	for _, e := range cfg.Entries() {
		if e[0] == "azure_container_url" && strings.Contains(e[1], "secret") {
			t.Errorf("SAS token should be redacted, got %q", e[1])
		}
	}
}
