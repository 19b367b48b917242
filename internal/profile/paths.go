// Package profile manages the on-disk layout of smsdesk profiles
// under ~/.smsdesk. Each profile holds one database, its logs and a
// daemon lock, so separate accounts never share state.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.smsdesk.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".smsdesk")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DBPath returns the message database path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "smsdesk.db")
}

// LockPath returns the daemon lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "smsdeskd.log")
}

// ConfigPath returns the profile's config file path.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "config.toml")
}

// GlobalConfigPath returns the base config file, consulted for
// default_profile.
func GlobalConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper
// permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
