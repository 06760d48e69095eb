package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// Config represents the per-profile config.toml.
type Config struct {
	DefaultAccount string `toml:"default_account"`
	// MessageEncryption is the process-wide default for conversations
	// without an explicit override: "none" or "e2ee".
	MessageEncryption string `toml:"message_encryption"`
	// ConfirmMessages is the global receipt-confirmation switch. A
	// conversation sends read receipts only when this and its own
	// confirm flag are both enabled.
	ConfirmMessages bool `toml:"confirm_messages"`
}

// Default returns the config used when no file exists yet.
func Default() *Config {
	return &Config{
		MessageEncryption: "none",
		ConfirmMessages:   true,
	}
}

// Load reads config from the given path. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Settings is a mutable, persisted view over a Config file. Reads are
// served from memory; every mutation is written back to disk before the
// in-memory value changes.
type Settings struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// OpenSettings loads the config at path, falling back to defaults when
// the file does not exist yet.
func OpenSettings(path string) (*Settings, error) {
	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = Default()
	}
	return &Settings{path: path, cfg: cfg}, nil
}

// DefaultAccount returns the configured default account identifier, or "".
func (s *Settings) DefaultAccount() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.DefaultAccount
}

// SetDefaultAccount persists a new default account identifier.
func (s *Settings) SetDefaultAccount(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.cfg
	next.DefaultAccount = name
	if err := Save(s.path, &next); err != nil {
		return err
	}
	s.cfg = &next
	return nil
}

// MessageEncryption returns the process-wide default encryption mode.
func (s *Settings) MessageEncryption() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.MessageEncryption
}

// ConfirmMessages returns the global receipt-confirmation switch.
func (s *Settings) ConfirmMessages() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ConfirmMessages
}
