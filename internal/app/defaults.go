package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns the locations storyfs uses before a config file exists:
//
//	config_path  $STORYFS_CONFIG_PATH, else ~/.config/storyfs.toml
//	base_dir     $STORYFS_HOME, else ~/.local/share/storyfs
//	log_dir      <base_dir>/log
//
// The registry, keys, story root and shadow snapshot live under base_dir
// unless the config says otherwise.
func GetDefaults() (map[string]string, error) {
	configPath, err := envOrHome("STORYFS_CONFIG_PATH", ".config", "storyfs.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := envOrHome("STORYFS_HOME", ".local", "share", "storyfs")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// envOrHome returns $env when set, else the home-relative path.
func envOrHome(env string, elems ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for %s: %w", env, err)
	}
	return filepath.Join(append([]string{home}, elems...)...), nil
}
