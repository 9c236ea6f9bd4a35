package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetVintnerHomeDefault(t *testing.T) {
	t.Setenv(EnvHome, "")

	home := GetVintnerHome()

	userHome, _ := os.UserHomeDir()
	expected := filepath.Join(userHome, ".vintner")

	if home != expected {
		t.Errorf("GetVintnerHome() = %s; want %s", home, expected)
	}
}

func TestGetVintnerHomeOverride(t *testing.T) {
	t.Setenv(EnvHome, "/tmp/vintner-test-home")

	if home := GetVintnerHome(); home != "/tmp/vintner-test-home" {
		t.Errorf("GetVintnerHome() = %s; want override", home)
	}
}

func TestGetPathsLayout(t *testing.T) {
	t.Setenv(EnvHome, "/tmp/vintner-home")
	t.Setenv(EnvSocket, "")
	t.Setenv(EnvRuntimeDir, "")
	t.Setenv(EnvRecipeDir, "")

	paths := GetPaths()

	if !strings.HasSuffix(paths.Socket, "vintner-home/vintner.sock") {
		t.Errorf("Socket path incorrect: %s", paths.Socket)
	}
	if !strings.HasSuffix(paths.RuntimeDir, "vintner-home/runtimes") {
		t.Errorf("RuntimeDir path incorrect: %s", paths.RuntimeDir)
	}
	if !strings.HasSuffix(paths.BottleRoot, "vintner-home/bottles") {
		t.Errorf("BottleRoot path incorrect: %s", paths.BottleRoot)
	}
	if !strings.HasSuffix(paths.RecipeDir, "vintner-home/recipes") {
		t.Errorf("RecipeDir path incorrect: %s", paths.RecipeDir)
	}
	if !strings.HasSuffix(paths.JournalDB, "vintner-home/journal.db") {
		t.Errorf("JournalDB path incorrect: %s", paths.JournalDB)
	}
}

func TestGetPathsOverrides(t *testing.T) {
	t.Setenv(EnvHome, "/tmp/vintner-home")
	t.Setenv(EnvSocket, "/tmp/alt.sock")
	t.Setenv(EnvRuntimeDir, "/opt/wine-builds")
	t.Setenv(EnvRecipeDir, "/srv/recipes")

	paths := GetPaths()

	if paths.Socket != "/tmp/alt.sock" {
		t.Errorf("Socket override not honored: %s", paths.Socket)
	}
	if paths.RuntimeDir != "/opt/wine-builds" {
		t.Errorf("RuntimeDir override not honored: %s", paths.RuntimeDir)
	}
	if paths.RecipeDir != "/srv/recipes" {
		t.Errorf("RecipeDir override not honored: %s", paths.RecipeDir)
	}
	if !strings.HasSuffix(paths.BottleRoot, "vintner-home/bottles") {
		t.Errorf("BottleRoot must stay under home: %s", paths.BottleRoot)
	}
}

func TestStepTimeout(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{"0", 0},
		{"30m", 30 * time.Minute},
		{"90s", 90 * time.Second},
		{"-5s", 0},
		{"nonsense", 0},
	}

	for _, tt := range tests {
		t.Setenv(EnvStepTimeout, tt.raw)
		if got := StepTimeout(); got != tt.want {
			t.Errorf("StepTimeout() with %q = %v; want %v", tt.raw, got, tt.want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		input    string
		contains string
	}{
		{"~/test", "/test"},
		{"~", ""},
		{"/absolute/path", "/absolute/path"},
		{"", ""},
	}

	for _, tt := range tests {
		result := ExpandPath(tt.input)
		if tt.input == "~" {
			home, _ := os.UserHomeDir()
			if result != home {
				t.Errorf("ExpandPath(%q) = %q; want home directory", tt.input, result)
			}
		} else if tt.input != "" && !strings.Contains(result, tt.contains) {
			t.Errorf("ExpandPath(%q) = %q; should contain %q", tt.input, result, tt.contains)
		}
	}
}

func TestEnsureDirsCreatesLayout(t *testing.T) {
	t.Setenv(EnvHome, filepath.Join(t.TempDir(), "vhome"))
	t.Setenv(EnvSocket, "")
	t.Setenv(EnvRuntimeDir, "")
	t.Setenv(EnvRecipeDir, "")

	paths, err := EnsureDirs()
	if err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}

	for _, dir := range []string{paths.Home, paths.RuntimeDir, paths.BottleRoot, paths.RecipeDir, paths.Logs} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", dir)
		}
	}
}
