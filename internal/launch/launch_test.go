package launch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeScript drops an executable shell script and returns its path.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(data)
}

func TestLaunchSuccess(t *testing.T) {
	script := writeScript(t, "ok.sh", "exit 0")

	outcome, err := Supervisor{}.Launch(context.Background(), Spec{Executable: script})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !outcome.Success || outcome.ExitCode != 0 {
		t.Errorf("outcome = %+v, want success", outcome)
	}
}

func TestLaunchNonzeroExitIsOutcomeNotError(t *testing.T) {
	script := writeScript(t, "fail.sh", "exit 7")

	outcome, err := Supervisor{}.Launch(context.Background(), Spec{Executable: script})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if outcome.Success {
		t.Error("nonzero exit reported as success")
	}
	if outcome.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", outcome.ExitCode)
	}
}

func TestLaunchMissingExecutable(t *testing.T) {
	_, err := Supervisor{}.Launch(context.Background(), Spec{
		Executable: filepath.Join(t.TempDir(), "absent"),
	})
	if !IsStartError(err) {
		t.Fatalf("expected StartError, got %v", err)
	}
	if !errors.Is(err, ErrExecutableMissing) {
		t.Errorf("expected ErrExecutableMissing, got %v", err)
	}
}

func TestLaunchEmptyExecutable(t *testing.T) {
	_, err := Supervisor{}.Launch(context.Background(), Spec{})
	if !IsStartError(err) || !errors.Is(err, ErrExecutableUnset) {
		t.Fatalf("expected ErrExecutableUnset StartError, got %v", err)
	}
}

func TestLaunchSetsWorkingDir(t *testing.T) {
	script := writeScript(t, "cwd.sh", "pwd")
	workDir := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "run.log")

	_, err := Supervisor{}.Launch(context.Background(), Spec{
		Executable: script,
		WorkingDir: workDir,
		LogPath:    logPath,
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	// The reported cwd may be a symlink-resolved variant of workDir.
	resolved, err := filepath.EvalSymlinks(workDir)
	if err != nil {
		t.Fatal(err)
	}
	content := readLog(t, logPath)
	if !strings.Contains(content, "[stdout] "+resolved) && !strings.Contains(content, "[stdout] "+workDir) {
		t.Errorf("log does not show working dir:\n%s", content)
	}
}

func TestLaunchEnvOverridesWin(t *testing.T) {
	t.Setenv("VINTNER_TEST_MARKER", "from-parent")
	script := writeScript(t, "env.sh", `echo "marker=$VINTNER_TEST_MARKER"`)
	logPath := filepath.Join(t.TempDir(), "run.log")

	_, err := Supervisor{}.Launch(context.Background(), Spec{
		Executable: script,
		Env:        []string{"VINTNER_TEST_MARKER=from-bottle"},
		LogPath:    logPath,
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	content := readLog(t, logPath)
	if !strings.Contains(content, "[stdout] marker=from-bottle") {
		t.Errorf("bottle env did not win over parent env:\n%s", content)
	}
}

func TestLaunchTagsBothStreams(t *testing.T) {
	script := writeScript(t, "both.sh", "echo out-line\necho err-line >&2")
	logPath := filepath.Join(t.TempDir(), "run.log")

	_, err := Supervisor{}.Launch(context.Background(), Spec{Executable: script, LogPath: logPath})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	content := readLog(t, logPath)
	if !strings.Contains(content, "[stdout] out-line") {
		t.Errorf("missing tagged stdout line:\n%s", content)
	}
	if !strings.Contains(content, "[stderr] err-line") {
		t.Errorf("missing tagged stderr line:\n%s", content)
	}
}

func TestLaunchWritesBannerAndAppends(t *testing.T) {
	script := writeScript(t, "ok.sh", "echo hi")
	logPath := filepath.Join(t.TempDir(), "run.log")

	for i := 0; i < 2; i++ {
		if _, err := (Supervisor{}).Launch(context.Background(), Spec{Executable: script, LogPath: logPath}); err != nil {
			t.Fatalf("Launch: %v", err)
		}
	}

	content := readLog(t, logPath)
	if got := strings.Count(content, "=== "); got != 2 {
		t.Errorf("expected 2 banner lines, got %d:\n%s", got, content)
	}
	if !strings.Contains(content, script) {
		t.Errorf("banner does not name the executable:\n%s", content)
	}
}

func TestLaunchFlushesPartialLine(t *testing.T) {
	script := writeScript(t, "partial.sh", `printf "no-newline"`)
	logPath := filepath.Join(t.TempDir(), "run.log")

	_, err := Supervisor{}.Launch(context.Background(), Spec{Executable: script, LogPath: logPath})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	if content := readLog(t, logPath); !strings.Contains(content, "[stdout] no-newline") {
		t.Errorf("partial line not flushed:\n%s", content)
	}
}

func TestLaunchContextDeadlineTerminatesProcess(t *testing.T) {
	script := writeScript(t, "slow.sh", "exec sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Supervisor{}.Launch(ctx, Spec{Executable: script})
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("termination took too long: %v", elapsed)
	}
}
