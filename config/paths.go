package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	AppName = "pretorin"

	// HomeEnv overrides the application home directory.
	HomeEnv = "PRETORIN_HOME"
)

// GetHomeDir returns the application home (~/.pretorin unless PRETORIN_HOME is set).
func GetHomeDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(HomeEnv)); override != "" {
		return filepath.Abs(override)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, "."+AppName), nil
}

func ensureSubdir(name string) (string, error) {
	home, err := GetHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// GetBinDir holds cached runtime binaries, one file per pinned version.
func GetBinDir() (string, error) {
	return ensureSubdir("bin")
}

// GetRuntimeHome is the isolated home handed to the managed runtime. It is
// never the runtime's own default location.
func GetRuntimeHome() (string, error) {
	return ensureSubdir("codex")
}

// GetStagingDir receives downloads before they are verified.
func GetStagingDir() (string, error) {
	return ensureSubdir("tmp")
}

func GetLogsDir() (string, error) {
	return ensureSubdir("logs")
}

func GetLogPath() (string, error) {
	logsDir, err := GetLogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(logsDir, AppName+".log"), nil
}

func GetConfigFile() (string, error) {
	home, err := GetHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "config.json"), nil
}

// GetRegistryFile is the global capability-provider registry.
func GetRegistryFile() (string, error) {
	home, err := GetHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "mcp.json"), nil
}

func GetDatabasePath() (string, error) {
	home, err := GetHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, AppName+".db"), nil
}
