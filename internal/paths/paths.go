// Package paths resolves where quire keeps its configuration, its SQLite
// database, and uploaded images.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the directory name used under the platform base directories.
const AppName = "quire"

// File and directory names inside the resolved directories.
const (
	ConfigFileName   = "config.yaml"
	DatabaseFileName = "quire.db"
	UploadsDirName   = "uploads"
	DefaultDataDir   = ".quire"
)

// Environment overrides.
const (
	EnvConfigDir = "QUIRE_CONFIG_DIR"
	EnvDataDir   = "QUIRE_DATA_DIR"
)

// platform is swapped in tests.
var platform = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// baseDir returns the platform directory for app files. On Linux xdgVar
// wins, then ~/fallback...; elsewhere os.UserConfigDir is used for both
// configuration and data.
func baseDir(xdgVar string, fallback ...string) (string, error) {
	if platform.goos != "linux" {
		dir, err := platform.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platform.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), AppName)...), nil
}

// PlatformConfigDir is the default configuration directory:
// $XDG_CONFIG_HOME/quire on Linux, the user config dir elsewhere.
func PlatformConfigDir() (string, error) {
	return baseDir("XDG_CONFIG_HOME", ".config")
}

// PlatformDataDir is $XDG_DATA_HOME/quire (or ~/.local/share/quire) on
// Linux, the user config dir elsewhere.
func PlatformDataDir() (string, error) {
	return baseDir("XDG_DATA_HOME", ".local", "share")
}

// ResolveConfigDir applies flag > QUIRE_CONFIG_DIR > platform default.
func ResolveConfigDir(flag string) (string, error) {
	for _, dir := range []string{flag, os.Getenv(EnvConfigDir)} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	return PlatformConfigDir()
}

// ResolveDataDir applies flag > config file value > QUIRE_DATA_DIR >
// ./.quire in the working directory.
func ResolveDataDir(flag, configured string) (string, error) {
	for _, dir := range []string{flag, configured, os.Getenv(EnvDataDir)} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDir), nil
}

// ConfigFile is the config.yaml inside configDir.
func ConfigFile(configDir string) string {
	return filepath.Join(configDir, ConfigFileName)
}

// DatabaseFile is the SQLite database inside dataDir.
func DatabaseFile(dataDir string) string {
	return filepath.Join(dataDir, DatabaseFileName)
}

// UploadsDir holds stored article images.
func UploadsDir(dataDir string) string {
	return filepath.Join(dataDir, UploadsDirName)
}
