// Package shortcut writes macOS application bundles that relaunch a
// bottle executable through the vintner CLI. Routing the launch back
// through the daemon keeps the journal and the bottle environment
// authoritative instead of freezing them into the bundle.
package shortcut

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/vintner-app/vintner/internal/config"
)

const (
	// fallbackTitle names the bundle when neither the request nor the
	// executable yields a usable title.
	fallbackTitle = "Windows App"

	launcherName = "launch"
)

const infoPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleDevelopmentRegion</key>
	<string>en</string>
	<key>CFBundleExecutable</key>
	<string>launch</string>
	<key>CFBundleIdentifier</key>
	<string>com.vintner.shortcut.%s</string>
	<key>CFBundleInfoDictionaryVersion</key>
	<string>6.0</string>
	<key>CFBundleName</key>
	<string>%s</string>
	<key>CFBundlePackageType</key>
	<string>APPL</string>
	<key>CFBundleShortVersionString</key>
	<string>1.0</string>
	<key>CFBundleVersion</key>
	<string>1.0</string>
</dict>
</plist>
`

// Spec describes one shortcut request. Title and Directory are optional;
// the title falls back to the executable's base name and then the bottle
// name, the directory to ~/Applications/Vintner.
type Spec struct {
	BottleID   string
	BottleName string
	Executable string
	Args       []string
	Title      string
	Directory  string
}

// Create writes the bundle and returns its path. An existing bundle at
// the same path is replaced.
func Create(spec Spec) (string, error) {
	title := bundleTitle(spec)

	dir, err := targetDir(spec.Directory)
	if err != nil {
		return "", err
	}

	bundle := filepath.Join(dir, title+".app")
	if err := os.RemoveAll(bundle); err != nil {
		return "", fmt.Errorf("shortcut: replace %s: %w", bundle, err)
	}

	macosDir := filepath.Join(bundle, "Contents", "MacOS")
	resourcesDir := filepath.Join(bundle, "Contents", "Resources")
	for _, d := range []string{macosDir, resourcesDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("shortcut: create bundle directories: %w", err)
		}
	}

	plist := fmt.Sprintf(infoPlistTemplate, spec.BottleID, title)
	plistPath := filepath.Join(bundle, "Contents", "Info.plist")
	if err := os.WriteFile(plistPath, []byte(plist), 0o644); err != nil {
		return "", fmt.Errorf("shortcut: write Info.plist: %w", err)
	}

	script := launcherScript(spec)
	scriptPath := filepath.Join(macosDir, launcherName)
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("shortcut: write launcher: %w", err)
	}
	// os.WriteFile applies the umask; pin the launcher mode.
	if err := os.Chmod(scriptPath, 0o755); err != nil {
		return "", fmt.Errorf("shortcut: mark launcher executable: %w", err)
	}

	return bundle, nil
}

// launcherScript builds the zsh entrypoint. Everything baked into the
// script is shell-quoted; trailing arguments from Finder or open(1) pass
// through after the recorded ones.
func launcherScript(spec Spec) string {
	argv := []string{cliPath(), "run", spec.BottleID, spec.Executable}
	argv = append(argv, spec.Args...)

	var b strings.Builder
	b.WriteString("#!/bin/zsh\nset -euo pipefail\n\nexec")
	for _, arg := range argv {
		b.WriteByte(' ')
		b.WriteString(shellQuote(arg))
	}
	b.WriteString(" \"$@\"\n")
	return b.String()
}

// cliPath locates the vintner CLI for the launcher. The CLI installs
// next to the daemon binary; when it is not there (or the daemon path is
// unknown) the script falls back to PATH lookup.
func cliPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "vintner"
	}
	sibling := filepath.Join(filepath.Dir(exe), "vintner")
	if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
		return sibling
	}
	return "vintner"
}

func targetDir(directory string) (string, error) {
	if directory != "" {
		return config.ExpandPath(directory), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("shortcut: resolve home directory: %w", err)
	}
	return filepath.Join(home, "Applications", "Vintner"), nil
}

// bundleTitle picks the display name: explicit title, then the
// executable's base name, then the bottle name. sanitizeTitle keeps the
// result safe for both the bundle path and the plist.
func bundleTitle(spec Spec) string {
	candidates := []string{spec.Title, executableTitle(spec.Executable), spec.BottleName}
	for _, candidate := range candidates {
		if title := sanitizeTitle(candidate); title != "" {
			return title
		}
	}
	return fallbackTitle
}

// executableTitle derives a name from a guest path. Guest paths use
// backslashes, host paths forward slashes; both separate here.
func executableTitle(executable string) string {
	base := executable
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return base
}

// sanitizeTitle replaces everything outside letters, digits, spaces,
// dashes, and underscores so the title cannot escape the bundle path or
// break the plist markup.
func sanitizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimSpace(b.String())
}

// shellQuote wraps a value in single quotes for the launcher script,
// splicing embedded single quotes through double-quoted segments.
func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.Contains(value, "'") {
		return "'" + value + "'"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
