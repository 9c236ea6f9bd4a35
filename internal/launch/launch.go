// Package launch starts guest processes on behalf of bottles and reports
// how they ended. A launch blocks its calling goroutine until the process
// exits; callers that must not stall run it from their own goroutine.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vintner-app/vintner/internal/procutil"
)

// killDelay is how long a process gets to honor SIGTERM after its context
// is cancelled before it is force-killed.
const killDelay = 10 * time.Second

var (
	// ErrExecutableUnset indicates an empty executable path.
	ErrExecutableUnset = errors.New("launch: executable path is empty")
	// ErrExecutableMissing indicates the executable does not exist.
	ErrExecutableMissing = errors.New("launch: executable not found")
)

// StartError indicates the process could not be started at all, as
// opposed to starting and exiting nonzero.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("launch: cannot start %s: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// IsStartError returns true when err is (or wraps) a StartError.
func IsStartError(err error) bool {
	var se *StartError
	return errors.As(err, &se)
}

// Spec describes one launch.
type Spec struct {
	Executable string
	Args       []string
	WorkingDir string
	// Env entries are layered over the daemon's own environment; later
	// entries win on key collision.
	Env []string
	// LogPath receives both output streams, line-tagged. Empty discards
	// output.
	LogPath string
}

// Outcome reports a finished process. A nonzero exit is a normal Outcome,
// not an error.
type Outcome struct {
	ExitCode int
	Success  bool
}

// Supervisor launches external processes with captured output.
type Supervisor struct{}

// Launch runs the process described by spec and blocks until it exits.
// Cancelling ctx requests graceful termination, escalating to a kill
// after killDelay; the launch then fails with the context's error.
func (Supervisor) Launch(ctx context.Context, spec Spec) (Outcome, error) {
	if strings.TrimSpace(spec.Executable) == "" {
		return Outcome{}, &StartError{Path: spec.Executable, Err: ErrExecutableUnset}
	}
	if _, err := os.Stat(spec.Executable); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Outcome{}, &StartError{Path: spec.Executable, Err: ErrExecutableMissing}
		}
		return Outcome{}, &StartError{Path: spec.Executable, Err: err}
	}

	var stdout, stderr io.Writer = io.Discard, io.Discard
	var sink *logSink
	if spec.LogPath != "" {
		var err error
		sink, err = openLogSink(spec.LogPath)
		if err != nil {
			return Outcome{}, fmt.Errorf("launch: open log %s: %w", spec.LogPath, err)
		}
		defer sink.Close()
		sink.Banner(time.Now().UTC(), spec.Executable, spec.Args)
		stdout = sink.Stream("stdout")
		stderr = sink.Stream("stderr")
	}

	// Not exec.CommandContext: cancellation must deliver SIGTERM first
	// and only then escalate to a kill.
	cmd := exec.Command(spec.Executable, spec.Args...)
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	if err := cmd.Start(); err != nil {
		return Outcome{}, &StartError{Path: spec.Executable, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return outcomeFromWait(cmd, err)
	case <-ctx.Done():
	}

	pid := cmd.Process.Pid
	if err := procutil.GracefulTerminate(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Printf("[Supervisor] Failed to terminate pid=%d: %v", pid, err)
	}

	killTimer := time.NewTimer(killDelay)
	defer killTimer.Stop()
	select {
	case <-done:
	case <-killTimer.C:
		log.Printf("[Supervisor] pid=%d did not exit within %v after termination, force-killing", pid, killDelay)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Printf("[Supervisor] Failed to kill pid=%d: %v", pid, err)
		}
		<-done
	}

	return Outcome{}, fmt.Errorf("launch: %s: %w", spec.Executable, ctx.Err())
}

// outcomeFromWait turns the result of cmd.Wait into an Outcome. Exit
// errors are outcomes; anything else is a real failure.
func outcomeFromWait(cmd *exec.Cmd, err error) (Outcome, error) {
	if err == nil {
		return Outcome{ExitCode: 0, Success: true}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Outcome{ExitCode: exitErr.ExitCode(), Success: false}, nil
	}
	return Outcome{}, fmt.Errorf("launch: wait for %s: %w", cmd.Path, err)
}
