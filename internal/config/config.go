// Package config loads and saves dndupload settings. The native format is a
// key,value CSV file; files ending in .toml are read and written as TOML.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

const lockTimeout = 5 * time.Second

// Load reads path in the format its extension selects and applies the
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if isTOML(path) {
		cfg, err = LoadConfigTOML(path)
	} else {
		cfg, err = LoadConfigCSV(path)
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// Save writes cfg to path while holding an exclusive lock on path+".lock",
// so concurrent "config init" runs cannot interleave.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := tryLock(lock)
	if err != nil {
		return fmt.Errorf("failed to lock config file: %w", err)
	}
	if !locked {
		return fmt.Errorf("config file %s is locked by another process", path)
	}
	defer func() { _ = lock.Unlock() }()

	if isTOML(path) {
		return SaveConfigTOML(cfg, path)
	}
	return SaveConfigCSV(cfg, path)
}

func tryLock(lock *flock.Flock) (bool, error) {
	deadline := time.Now().Add(lockTimeout)
	for {
		ok, err := lock.TryLock()
		if err != nil || ok {
			return ok, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// LoadConfigTOML reads a TOML config file. Unset keys keep their defaults.
func LoadConfigTOML(path string) (*Config, error) {
	cfg := NewDefault()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config TOML: %w", err)
	}
	cfg.Backend = strings.ToLower(cfg.Backend)
	cfg.ProgressMode = strings.ToLower(cfg.ProgressMode)
	return cfg, nil
}

// SaveConfigTOML writes cfg as TOML. The proxy password is never written.
func SaveConfigTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config TOML: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
