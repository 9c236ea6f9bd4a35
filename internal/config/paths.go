package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment overrides honored by the daemon and CLI.
const (
	EnvHome        = "VINTNER_HOME"
	EnvSocket      = "VINTNER_SOCKET"
	EnvRuntimeDir  = "VINTNER_RUNTIME_DIR"
	EnvRecipeDir   = "VINTNER_RECIPE_DIR"
	EnvStepTimeout = "VINTNER_STEP_TIMEOUT"
	EnvARM64Wine64 = "VINTNER_ARM64_WINE64"
)

// Paths contains all filesystem locations used by a Vintner instance.
type Paths struct {
	Home       string // Vintner home directory
	RuntimeDir string // Root directory scanned for Wine runtime installs
	BottleRoot string // Root directory holding one subdirectory per bottle
	RecipeDir  string // Root directory holding recipe manifests
	Logs       string // Logs directory (daemon log plus per-bottle run logs)
	Socket     string // Unix socket path
	PIDFile    string // Daemon pid file path
	JournalDB  string // SQLite launch journal path
}

// GetPaths resolves the instance layout, honoring environment overrides.
func GetPaths() Paths {
	home := GetVintnerHome()

	paths := Paths{
		Home:       home,
		RuntimeDir: filepath.Join(home, "runtimes"),
		BottleRoot: filepath.Join(home, "bottles"),
		RecipeDir:  filepath.Join(home, "recipes"),
		Logs:       filepath.Join(home, "logs"),
		Socket:     filepath.Join(home, "vintner.sock"),
		PIDFile:    filepath.Join(home, "vintnerd.pid"),
		JournalDB:  filepath.Join(home, "journal.db"),
	}

	if v := strings.TrimSpace(os.Getenv(EnvRuntimeDir)); v != "" {
		paths.RuntimeDir = ExpandPath(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvRecipeDir)); v != "" {
		paths.RecipeDir = ExpandPath(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvSocket)); v != "" {
		paths.Socket = ExpandPath(v)
	}

	return paths
}

// GetVintnerHome returns the Vintner home directory (~/.vintner unless
// VINTNER_HOME is set).
func GetVintnerHome() string {
	if v := strings.TrimSpace(os.Getenv(EnvHome)); v != "" {
		return ExpandPath(v)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".vintner")
}

// StepTimeout returns the configured maximum duration for a single recipe
// step, or zero when unset or invalid (zero disables the limit).
func StepTimeout() time.Duration {
	raw := strings.TrimSpace(os.Getenv(EnvStepTimeout))
	if raw == "" || raw == "0" {
		return 0
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return 0
}

// ExtraARM64Wine64 returns the path of an additional native-arm64 wine64
// binary registered via environment override, or empty when unset.
func ExtraARM64Wine64() string {
	return ExpandPath(strings.TrimSpace(os.Getenv(EnvARM64Wine64)))
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureDirs creates the instance directory structure if it does not exist.
func EnsureDirs() (Paths, error) {
	paths := GetPaths()

	if err := os.MkdirAll(paths.Home, 0o700); err != nil {
		return paths, err
	}

	dirs := []string{
		paths.RuntimeDir,
		paths.BottleRoot,
		paths.RecipeDir,
		paths.Logs,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
