package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vintner-app/vintner/internal/client"
	"github.com/vintner-app/vintner/internal/config"
	vintnerversion "github.com/vintner-app/vintner/internal/version"
)

var rootCmd *cobra.Command

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data interface{}) error {
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(jsonBytes))
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

// Error outputs an error message
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	return fmt.Errorf("%s: %w", message, err)
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "vintner",
		Short: "Vintner - manage wine bottles for Windows applications",
		Long: `Vintner manages isolated wine prefixes ("bottles") through a local
daemon: create bottles on a chosen wine runtime, run Windows executables
inside them, apply provisioning recipes, and review launch history.`,
	}
	rootCmd.Version = vintnerversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

// newClient dials the daemon for the active instance layout.
func newClient() *client.Client {
	return client.New(config.GetPaths().Socket)
}

func main() {
	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Show daemon status information",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}

	pingCmd := &cobra.Command{
		Use:           "ping",
		Short:         "Check that the daemon answers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonPing,
	}

	rootCmd.AddCommand(
		statusCmd,
		pingCmd,
		newRuntimesCommand(),
		newCreateCommand(),
		newListCommand(),
		newDeleteCommand(),
		newRunCommand(),
		newHistoryCommand(),
		newRecipesCommand(),
		newApplyCommand(),
		newShortcutCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		// Error is already printed by command handlers
		os.Exit(1)
	}
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	info, err := newClient().Info()
	if err != nil {
		return out.Error("Daemon is not reachable", err)
	}

	if warning := vintnerversion.CheckVersionMismatch(info.Version); warning != "" {
		fmt.Fprintln(os.Stderr, warning)
	}

	if out.jsonMode {
		return out.Print(info)
	}

	fmt.Println("Daemon Status:")
	fmt.Printf("  Version: %s\n", info.Version)
	fmt.Printf("  Runtime dir: %s\n", info.RuntimeDir)
	fmt.Printf("  Bottle root: %s\n", info.BottleRoot)
	fmt.Printf("  Runtimes: %d\n", len(info.Runtimes))
	return nil
}

func daemonPing(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	result, err := newClient().Ping()
	if err != nil {
		return out.Error("Daemon is not reachable", err)
	}
	if out.jsonMode {
		return out.Print(result)
	}
	fmt.Println(result.Status)
	return nil
}
