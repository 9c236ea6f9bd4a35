package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vintner-app/vintner/internal/config"
	"github.com/vintner-app/vintner/internal/daemon"
	"github.com/vintner-app/vintner/internal/procutil"
	vintnerruntime "github.com/vintner-app/vintner/internal/runtime"
	vintnerversion "github.com/vintner-app/vintner/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "vintnerd",
		Short:         "Vintner daemon - manages wine bottles over a Unix socket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = vintnerversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Report whether the daemon is running",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStatus,
	}

	stopCmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop a running daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStop,
	}

	rootCmd.AddCommand(statusCmd, stopCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	paths, err := config.EnsureDirs()
	if err != nil {
		return fmt.Errorf("failed to prepare instance directories: %w", err)
	}

	if daemon.IsRunning(paths) {
		return fmt.Errorf("daemon is already running")
	}

	d, err := daemon.New(daemon.Options{Paths: paths, Version: vintnerversion.String()})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start()
	}()

	log.Printf("Vintner daemon started (PID: %d)", os.Getpid())
	log.Printf("Unix socket: %s", paths.Socket)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %s, shutting down...", sig)
		if err := d.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		if err := <-errChan; err != nil {
			log.Printf("Daemon error during shutdown: %v", err)
			return err
		}
	case err := <-errChan:
		if err != nil {
			log.Printf("Daemon error: %v", err)
			return err
		}
	}

	log.Println("Daemon stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	if !daemon.IsRunning(paths) {
		fmt.Println("vintnerd is not running")
		return nil
	}
	if pid, err := vintnerruntime.ReadPIDFile(paths.PIDFile); err == nil {
		fmt.Printf("vintnerd is running (pid %d)\n", pid)
	} else {
		fmt.Println("vintnerd is running")
	}
	fmt.Printf("socket: %s\n", paths.Socket)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()

	pid, err := vintnerruntime.ReadPIDFile(paths.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("daemon is not running")
		}
		return fmt.Errorf("read daemon pid: %w", err)
	}
	if !procutil.IsProcessAlive(pid) {
		os.Remove(paths.PIDFile)
		return fmt.Errorf("daemon is not running")
	}

	if err := procutil.TerminateByPID(pid); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}
	fmt.Printf("Sent termination signal to vintnerd (pid %d)\n", pid)
	return nil
}

func setupLogging() error {
	paths, err := config.EnsureDirs()
	if err != nil {
		return fmt.Errorf("initialise instance directories: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("=== Vintner Daemon Starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", logPath)
	return nil
}
