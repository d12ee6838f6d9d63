package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.courier.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".courier")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// MetricsSocketPath returns the UDS path the observability server listens on.
func MetricsSocketPath(name string) string {
	return filepath.Join(Dir(name), "metrics.sock")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the session-owned courier.db path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "courier.db")
}

// TokenPath returns the cached auth token path for a session.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token")
}

// RemoveToken deletes the cached auth token for a session. Missing files
// are not an error.
func RemoveToken(name string) error {
	err := os.Remove(TokenPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "courierd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
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
