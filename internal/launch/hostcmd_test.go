package launch

import (
	"reflect"
	"testing"

	"github.com/vintner-app/vintner/internal/catalog"
)

func TestHostCommandRosettaOnDarwin(t *testing.T) {
	host, args := HostCommand("darwin", catalog.ChannelRosetta, "/rt/bin/wine64", []string{"setup.exe", "/silent"})

	if host != "/usr/bin/arch" {
		t.Errorf("host = %q, want the arch shim", host)
	}
	want := []string{"-x86_64", "/rt/bin/wine64", "setup.exe", "/silent"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestHostCommandDirectCases(t *testing.T) {
	tests := []struct {
		name    string
		goos    string
		channel string
	}{
		{"native arm64 on darwin", "darwin", catalog.ChannelNativeARM64},
		{"rosetta channel on linux", "linux", catalog.ChannelRosetta},
		{"custom channel on darwin", "darwin", "custom-riscv64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, args := HostCommand(tt.goos, tt.channel, "/rt/bin/wine64", []string{"a"})
			if host != "/rt/bin/wine64" {
				t.Errorf("host = %q, want direct invocation", host)
			}
			if !reflect.DeepEqual(args, []string{"a"}) {
				t.Errorf("args = %v", args)
			}
		})
	}
}

func TestWineEnvLayering(t *testing.T) {
	env := WineEnv("/bottles/x/prefix", "/rt/wine-x86_64-9.0", []string{"WINEDEBUG=+all", "DXVK_ENABLE=1"})

	want := []string{
		"WINEPREFIX=/bottles/x/prefix",
		"WINEDEBUG=-all",
		"DYLD_FALLBACK_LIBRARY_PATH=/rt/wine-x86_64-9.0/lib",
		"WINEDEBUG=+all",
		"DXVK_ENABLE=1",
	}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("WineEnv = %v, want %v", env, want)
	}
}

func TestWineEnvWithoutInstallRoot(t *testing.T) {
	env := WineEnv("/p", "", nil)

	want := []string{"WINEPREFIX=/p", "WINEDEBUG=-all"}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("WineEnv = %v, want %v", env, want)
	}
}

func TestRuntimeCommandAssemblesSpec(t *testing.T) {
	spec := RuntimeCommand(
		"/rt/bin/wine64", catalog.ChannelNativeARM64,
		[]string{"installer.exe"},
		"/bottles/x/prefix", "/rt",
		[]string{"DXVK_ENABLE=1"},
		"/logs/bottle-x.log",
	)

	if spec.WorkingDir != "/bottles/x/prefix" {
		t.Errorf("working dir = %q", spec.WorkingDir)
	}
	if spec.LogPath != "/logs/bottle-x.log" {
		t.Errorf("log path = %q", spec.LogPath)
	}
	found := false
	for _, entry := range spec.Env {
		if entry == "DXVK_ENABLE=1" {
			found = true
		}
	}
	if !found {
		t.Errorf("bottle env missing from spec env: %v", spec.Env)
	}
}
