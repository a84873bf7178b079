// ABOUTME: Resolves conductor's XDG locations: the config file and the data directory.
// ABOUTME: XDG_CONFIG_HOME and XDG_DATA_HOME win; otherwise ~/.config/conductor and ~/.local/share/conductor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "conductor"

// xdgDir returns $env/conductor, or ~/<fallback...>/conductor when env is unset.
func xdgDir(env string, fallback ...string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(append(append([]string{home}, fallback...), appName)...), nil
}

// DefaultDataDir holds the history cache and log files.
func DefaultDataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// DefaultConfigDir holds config.yaml and an optional .env.
func DefaultConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DefaultConfigFile is the config.yaml Load reads when no path is given.
func DefaultConfigFile() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}
