package launch

import (
	"path/filepath"
	"runtime"

	"github.com/vintner-app/vintner/internal/catalog"
)

// archShim translates the process tree to x86_64 on Apple silicon. The
// absolute path matters: the supervisor stats its executable before
// starting it, so a bare name would never resolve.
const archShim = "/usr/bin/arch"

// HostCommand translates a runtime invocation into the command the host
// actually executes. On darwin, rosetta-channel binaries go through the
// arch shim so the x86_64 translator fronts the whole process tree.
// Everywhere else the binary runs directly.
func HostCommand(goos, channel, binary string, args []string) (string, []string) {
	if goos == "darwin" && channel == catalog.ChannelRosetta {
		return archShim, append([]string{"-x86_64", binary}, args...)
	}
	return binary, args
}

// WineEnv builds the override environment for a wine invocation. Bottle
// entries come last so they win over the defaults on key collision.
func WineEnv(prefix, installRoot string, bottleEnv []string) []string {
	env := []string{
		"WINEPREFIX=" + prefix,
		"WINEDEBUG=-all",
	}
	if installRoot != "" {
		env = append(env, "DYLD_FALLBACK_LIBRARY_PATH="+filepath.Join(installRoot, "lib"))
	}
	return append(env, bottleEnv...)
}

// RuntimeCommand assembles the full Spec for running a runtime binary
// (wine64, winecfg) inside a bottle prefix.
func RuntimeCommand(binary, channel string, args []string, prefix, installRoot string, bottleEnv []string, logPath string) Spec {
	host, hostArgs := HostCommand(runtime.GOOS, channel, binary, args)
	return Spec{
		Executable: host,
		Args:       hostArgs,
		WorkingDir: prefix,
		Env:        WineEnv(prefix, installRoot, bottleEnv),
		LogPath:    logPath,
	}
}
