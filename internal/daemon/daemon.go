// Package daemon hosts the vintnerd runtime: bottle registry, runtime
// catalog, recipe engine, launch journal, and the Unix socket service
// through which clients drive them.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/vintner-app/vintner/internal/bottle"
	"github.com/vintner-app/vintner/internal/catalog"
	"github.com/vintner-app/vintner/internal/config"
	"github.com/vintner-app/vintner/internal/journal"
	"github.com/vintner-app/vintner/internal/launch"
	"github.com/vintner-app/vintner/internal/procutil"
	"github.com/vintner-app/vintner/internal/recipe"
	vintnerruntime "github.com/vintner-app/vintner/internal/runtime"
)

const (
	// serviceStopTimeout bounds how long Start waits for the socket
	// service to drain in-flight connections during shutdown.
	serviceStopTimeout = 5 * time.Second

	// journalOpTimeout bounds journal reads and writes so a wedged
	// database cannot stall a response.
	journalOpTimeout = 5 * time.Second
)

// Options groups dependencies required to construct a Daemon.
type Options struct {
	Paths   config.Paths
	Version string
}

// Daemon owns all bottle state and serves the socket protocol.
type Daemon struct {
	paths      config.Paths
	version    string
	catalog    *catalog.Catalog
	registry   *bottle.Registry
	recipes    *recipe.Store
	engine     *recipe.Engine
	journal    *journal.Journal
	supervisor launch.Supervisor
	socket     *unixSocketService
	lifecycle  *vintnerruntime.Lifecycle

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires a daemon against the given instance layout.
func New(opts Options) (*Daemon, error) {
	registry, err := bottle.NewRegistry(opts.Paths.BottleRoot)
	if err != nil {
		return nil, fmt.Errorf("daemon: open bottle registry: %w", err)
	}

	jnl, err := journal.Open(opts.Paths.JournalDB)
	if err != nil {
		return nil, fmt.Errorf("daemon: open launch journal: %w", err)
	}

	recipes := recipe.NewStore(opts.Paths.RecipeDir)

	d := &Daemon{
		paths:     opts.Paths,
		version:   opts.Version,
		catalog:   catalog.New(opts.Paths.RuntimeDir, config.ExtraARM64Wine64()),
		registry:  registry,
		recipes:   recipes,
		engine:    recipe.NewEngine(recipes, registry, jnl, opts.Paths.Logs, config.StepTimeout()),
		journal:   jnl,
		lifecycle: vintnerruntime.NewLifecycle(),
	}
	d.socket = newUnixSocketService(opts.Paths.Socket, d)
	return d, nil
}

// Start runs the daemon until Shutdown is called. It owns the pid file for
// the duration of the run.
func (d *Daemon) Start() error {
	if err := vintnerruntime.WritePIDFile(d.paths.PIDFile, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer vintnerruntime.RemovePIDFile(d.paths.PIDFile)

	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.logStartupState()

	if err := d.socket.Start(d.ctx); err != nil {
		d.cancel()
		return fmt.Errorf("daemon: start socket service: %w", err)
	}
	log.Printf("[Daemon] listening on %s", d.paths.Socket)

	<-d.lifecycle.Done()

	d.cancel()

	stopCtx, cancel := context.WithTimeout(context.Background(), serviceStopTimeout)
	defer cancel()
	if err := d.socket.Shutdown(stopCtx); err != nil {
		log.Printf("[Daemon] socket shutdown: %v", err)
	}

	if err := d.journal.Close(); err != nil {
		log.Printf("[Daemon] journal close: %v", err)
	}
	return nil
}

// Shutdown asks a running daemon to stop. Safe to call more than once.
func (d *Daemon) Shutdown() error {
	d.lifecycle.Shutdown()
	return nil
}

func (d *Daemon) logStartupState() {
	runtimes, skipped, err := d.catalog.List()
	if err != nil {
		log.Printf("[Daemon] runtime scan failed: %v", err)
	} else {
		log.Printf("[Daemon] discovered %d wine runtime(s) under %s", len(runtimes), d.paths.RuntimeDir)
		for _, rt := range runtimes {
			log.Printf("[Daemon]   %s (%s) at %s", rt.Label, rt.Channel, rt.Wine64Path)
		}
		for _, s := range skipped {
			log.Printf("[Daemon]   skipped %s: %s", s.Dir, s.Reason)
		}
	}

	bottles, err := d.registry.List()
	if err != nil {
		log.Printf("[Daemon] bottle scan failed: %v", err)
		return
	}
	log.Printf("[Daemon] tracking %d bottle(s) under %s", len(bottles), d.paths.BottleRoot)
}

// recordLaunch journals one guest launch. Launches that never started are
// not history.
func (d *Daemon) recordLaunch(bottleID, executable string, args []string, origin string, started time.Time, outcome launch.Outcome, launchErr error) {
	if launch.IsStartError(launchErr) {
		return
	}
	entry := journal.Entry{
		BottleID:   bottleID,
		Executable: executable,
		Args:       args,
		Origin:     origin,
		StartedAt:  started,
		DurationMS: time.Since(started).Milliseconds(),
		ExitCode:   outcome.ExitCode,
		Success:    launchErr == nil && outcome.Success,
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalOpTimeout)
	defer cancel()
	if err := d.journal.Record(ctx, entry); err != nil {
		log.Printf("[Daemon] journal write for bottle %s failed: %v", bottleID, err)
	}
}

// IsRunning reports whether a daemon already serves the given layout. A
// stale pid file left by a dead process is cleaned up along the way.
func IsRunning(paths config.Paths) bool {
	if conn, err := net.Dial("unix", paths.Socket); err == nil {
		conn.Close()
		return true
	}

	pid, err := vintnerruntime.ReadPIDFile(paths.PIDFile)
	if err != nil {
		if !os.IsNotExist(err) {
			os.Remove(paths.PIDFile)
		}
		return false
	}

	if !procutil.IsProcessAlive(pid) {
		os.Remove(paths.PIDFile)
		return false
	}

	return true
}
