package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDir is the configuration directory name
const ConfigDir = "dndupload"

// getConfigDir returns the platform-appropriate config directory.
// - Windows: %APPDATA%\dndupload
// - Unix: ~/.config/dndupload (XDG standard)
func getConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, ConfigDir)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", ConfigDir)
	}
	return ""
}

// GetDefaultConfigPath returns the default config file path. An existing
// config.toml wins over config.csv.
func GetDefaultConfigPath() string {
	configDir := getConfigDir()
	if configDir == "" {
		return "config.csv"
	}
	tomlPath := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath
	}
	return filepath.Join(configDir, "config.csv")
}

// DefaultHistoryPath returns where the upload history database lives.
func DefaultHistoryPath() string {
	configDir := getConfigDir()
	if configDir == "" {
		return ""
	}
	return filepath.Join(configDir, "history.db")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	configDir := getConfigDir()
	if configDir == "" {
		return os.ErrNotExist
	}
	return os.MkdirAll(configDir, 0700)
}
