// Package catalog discovers Wine runtime installations under a configured
// root directory. Discovery is stateless: every List call re-reads the
// directory, so installs added or removed between requests are picked up
// without a daemon restart.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Channel names assigned during discovery.
const (
	ChannelRosetta     = "rosetta"
	ChannelNativeARM64 = "native-arm64"
	ChannelCustom      = "custom"

	// DefaultChannel is used when a bottle is created without naming one.
	DefaultChannel = ChannelRosetta
)

// Runtime describes one discovered Wine installation.
type Runtime struct {
	Channel    string `json:"channel"`
	Label      string `json:"label"`
	Version    string `json:"version"`
	Wine64Path string `json:"wine64_path"`
	Notes      string `json:"notes,omitempty"`
}

// Skipped records a runtime candidate rejected during a scan, with the
// reason kept for diagnostics.
type Skipped struct {
	Dir    string
	Reason string
}

// NoRuntimeError indicates that no installed runtime satisfies a
// resolution request.
type NoRuntimeError struct {
	Channel string
	Version string
	Path    string
}

func (e NoRuntimeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("no usable wine runtime at %s", e.Path)
	}
	if e.Version != "" {
		return fmt.Sprintf("no wine runtime for channel %q version %q", e.Channel, e.Version)
	}
	return fmt.Sprintf("no wine runtime for channel %q", e.Channel)
}

// IsNoRuntime returns true when err is (or wraps) a NoRuntimeError.
func IsNoRuntime(err error) bool {
	var nre NoRuntimeError
	return errors.As(err, &nre)
}

// Catalog scans a runtime root for installations. An optional extra
// wine64 path registers one additional native-arm64 runtime on top of
// whatever the scan finds.
type Catalog struct {
	runtimeDir  string
	extraWine64 string
}

// New creates a catalog over the given runtime root. extraWine64 may be
// empty; when set it names a wine64 binary outside the root that is
// offered as an experimental native-arm64 runtime.
func New(runtimeDir, extraWine64 string) *Catalog {
	return &Catalog{runtimeDir: runtimeDir, extraWine64: extraWine64}
}

// RuntimeDir returns the scanned root directory.
func (c *Catalog) RuntimeDir() string {
	return c.runtimeDir
}

// List scans the runtime root and returns all usable runtimes sorted by
// label, plus the candidates that were skipped. A missing root yields an
// empty list, not an error.
func (c *Catalog) List() ([]Runtime, []Skipped, error) {
	entries, err := os.ReadDir(c.runtimeDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			entries = nil
		} else {
			return nil, nil, fmt.Errorf("catalog: read runtime dir: %w", err)
		}
	}

	var runtimes []Runtime
	var skipped []Skipped

	// Install directories are named wine-<arch>-<version>; discovery
	// parses that shape rather than walking for binaries so a scan stays
	// proportional to the entry count.
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			continue
		}
		parts := strings.Split(name, "-")
		if len(parts) < 3 || parts[0] != "wine" {
			skipped = append(skipped, Skipped{Dir: name, Reason: "directory name is not wine-<arch>-<version>"})
			continue
		}
		arch := parts[1]
		version := strings.Join(parts[2:], "-")

		wine64 := filepath.Join(c.runtimeDir, name, "bin", "wine64")
		if reason := checkExecutable(wine64); reason != "" {
			skipped = append(skipped, Skipped{Dir: name, Reason: reason})
			continue
		}

		runtimes = append(runtimes, Runtime{
			Channel:    channelForArch(arch),
			Label:      fmt.Sprintf("wine %s %s", arch, version),
			Version:    version,
			Wine64Path: wine64,
		})
	}

	if c.extraWine64 != "" {
		if reason := checkExecutable(c.extraWine64); reason == "" {
			runtimes = append(runtimes, Runtime{
				Channel:    ChannelNativeARM64,
				Label:      "wine arm64 (external)",
				Version:    "experimental",
				Wine64Path: c.extraWine64,
				Notes:      "registered via environment override",
			})
		} else {
			skipped = append(skipped, Skipped{Dir: c.extraWine64, Reason: reason})
		}
	}

	sort.Slice(runtimes, func(i, j int) bool { return runtimes[i].Label < runtimes[j].Label })
	return runtimes, skipped, nil
}

// ResolveSpec names the runtime a new bottle should bind to. Path wins
// over channel lookup; an empty Channel means DefaultChannel.
type ResolveSpec struct {
	Path    string
	Channel string
	Version string
	Label   string
}

// Resolve picks the runtime for a creation request. Explicit paths are
// validated but need not live under the runtime root. Channel lookup
// prefers an exact version match, then any runtime on the channel, in
// List order. No guessing beyond that: an unresolvable spec is a
// NoRuntimeError.
func (c *Catalog) Resolve(spec ResolveSpec) (Runtime, error) {
	if spec.Path != "" {
		if reason := checkExecutable(spec.Path); reason != "" {
			return Runtime{}, NoRuntimeError{Path: spec.Path}
		}
		channel := spec.Channel
		if channel == "" {
			channel = ChannelCustom
		}
		label := spec.Label
		if label == "" {
			label = fmt.Sprintf("custom wine %s", spec.Version)
		}
		return Runtime{
			Channel:    channel,
			Label:      label,
			Version:    spec.Version,
			Wine64Path: spec.Path,
		}, nil
	}

	channel := spec.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	runtimes, _, err := c.List()
	if err != nil {
		return Runtime{}, err
	}

	pick := func(match func(Runtime) bool) (Runtime, bool) {
		for _, rt := range runtimes {
			if match(rt) {
				return rt, true
			}
		}
		return Runtime{}, false
	}

	found, ok := pick(func(rt Runtime) bool { return rt.Channel == channel && rt.Version == spec.Version })
	if !ok {
		found, ok = pick(func(rt Runtime) bool { return rt.Channel == channel })
	}
	if !ok {
		return Runtime{}, NoRuntimeError{Channel: channel, Version: spec.Version}
	}

	if spec.Label != "" {
		found.Label = spec.Label
	}
	return found, nil
}

// WinecfgPath returns the configuration utility that ships next to the
// given wine64 binary.
func WinecfgPath(wine64 string) string {
	return filepath.Join(filepath.Dir(wine64), "winecfg")
}

// InstallRoot returns the runtime install directory for a wine64 binary
// laid out as <root>/bin/wine64.
func InstallRoot(wine64 string) string {
	return filepath.Dir(filepath.Dir(wine64))
}

func channelForArch(arch string) string {
	switch arch {
	case "x86_64":
		return ChannelRosetta
	case "arm64":
		return ChannelNativeARM64
	default:
		return ChannelCustom + "-" + arch
	}
}

// checkExecutable returns an empty string when path is an executable
// regular file, or the skip reason otherwise.
func checkExecutable(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "wine64 binary not found"
		}
		return fmt.Sprintf("stat wine64: %v", err)
	}
	if info.IsDir() {
		return "wine64 is a directory"
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "wine64 is not executable"
	}
	return ""
}
