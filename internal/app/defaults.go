package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"fop-go/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - FOP_CONFIG_PATH: config file location (default: ~/.config/fop.toml)
//   - FOP_HOME: base directory for fop data (default: ~/.local/share/fop)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("FOP_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "fop.toml"), nil
}

// getBaseDir follows the XDG layout unless FOP_HOME is set.
func getBaseDir() (string, error) {
	if path := os.Getenv("FOP_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "fop"), nil
}

// LoadConfig reads the config file, falling back to the defaults below
// the base directory when none was written yet.
func LoadConfig() (*config.Config, string, error) {
	defaults, err := GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	path := defaults["config_path"]
	cfg, err := config.ReadFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.NewConfig(defaults["base_dir"]), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}
