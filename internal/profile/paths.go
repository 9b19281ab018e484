// Package profile locates the per-profile state directories under ~/.mirror.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.mirror, or $MIRROR_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("MIRROR_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mirror")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the UDS health socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// DBPath returns the profile's mirror.db path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "mirror.db")
}

func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "mirrord.log")
}

// EnvPath returns the profile's optional .env secrets file.
func EnvPath(name string) string {
	return filepath.Join(Dir(name), ".env")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
