package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.amber.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".amber")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// HistoryDBPath returns the chat history database path.
func HistoryDBPath(name string) string {
	return filepath.Join(Dir(name), "engine.db")
}

// KeychainDir returns the directory holding encrypted account credentials.
func KeychainDir(name string) string {
	return filepath.Join(Dir(name), "keychain")
}

// LegacyAccountsPath returns the pre-keychain plaintext accounts file,
// read once by the legacy migration.
func LegacyAccountsPath(name string) string {
	return filepath.Join(Dir(name), "accounts.json")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "amberd.log")
}

// ConfigPath returns the per-profile config file path.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		KeychainDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
