package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vintner-app/vintner/internal/protocol"
)

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "create [name]",
		Short:         "Create a new bottle",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          createBottle,
	}
	cmd.Flags().String("wine-version", "", "Wine version to bind the bottle to")
	cmd.Flags().String("wine-label", "", "Display label for the runtime")
	cmd.Flags().String("wine-path", "", "Path to a wine64 binary outside the runtime dir")
	cmd.Flags().String("channel", "", "Runtime channel (rosetta|native-arm64)")
	cmd.MarkFlagRequired("wine-version")
	return cmd
}

func createBottle(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	wineVersion, _ := cmd.Flags().GetString("wine-version")
	wineLabel, _ := cmd.Flags().GetString("wine-label")
	winePath, _ := cmd.Flags().GetString("wine-path")
	channel, _ := cmd.Flags().GetString("channel")

	record, err := newClient().CreateBottle(protocol.CreateBottleParams{
		Name:        args[0],
		WineVersion: wineVersion,
		WineLabel:   wineLabel,
		WinePath:    winePath,
		Channel:     channel,
	})
	if err != nil {
		return out.Error("Failed to create bottle", err)
	}

	if out.jsonMode {
		return out.Print(record)
	}
	fmt.Printf("Created bottle %s (%s) on %s\n", record.ID, record.Name, record.WineRuntime.Label)
	return nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List bottles managed by the daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listBottles,
	}
}

func listBottles(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	bottles, err := newClient().Bottles()
	if err != nil {
		return out.Error("Failed to list bottles", err)
	}

	if out.jsonMode {
		return out.Print(bottles)
	}

	if len(bottles) == 0 {
		fmt.Println("No bottles")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tWINE\tCHANNEL\tCREATED")
	for _, b := range bottles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			b.ID,
			b.Name,
			b.WineRuntime.Label,
			b.WineRuntime.Channel,
			b.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "delete [bottle-id]",
		Short:         "Delete a bottle and its prefix",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          deleteBottle,
	}
}

func deleteBottle(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	deleted, err := newClient().DeleteBottle(args[0])
	if err != nil {
		return out.Error("Failed to delete bottle", err)
	}
	return out.Success(fmt.Sprintf("Deleted bottle %s", deleted), map[string]interface{}{
		"id": deleted,
	})
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "run [bottle-id] [executable] [args...]",
		Short:         "Run an executable inside a bottle",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runExecutable,
	}
	// Guest arguments often start with dashes; stop flag parsing at the
	// first positional so they pass through untouched.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func runExecutable(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	result, err := newClient().Run(protocol.RunParams{
		ID:         args[0],
		Executable: args[1],
		Args:       args[2:],
	})
	if err != nil {
		return out.Error("Failed to run executable", err)
	}

	if out.jsonMode {
		return out.Print(result)
	}
	if result.Success {
		fmt.Printf("Exited cleanly (code %d)\n", result.ExitCode)
	} else {
		fmt.Printf("Exited with code %d\n", result.ExitCode)
	}
	return nil
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "history [bottle-id]",
		Short:         "Show a bottle's launch history, newest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          showHistory,
	}
	cmd.Flags().Int("limit", 0, "Maximum number of entries (0 uses the daemon default)")
	return cmd
}

func showHistory(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	limit, _ := cmd.Flags().GetInt("limit")

	entries, err := newClient().History(args[0], limit)
	if err != nil {
		return out.Error("Failed to fetch history", err)
	}

	if out.jsonMode {
		return out.Print(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No launches recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tEXECUTABLE\tORIGIN\tEXIT\tSTATUS\tDURATION")
	for _, e := range entries {
		status := "failed"
		if e.Success {
			status = "ok"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.Executable,
			e.Origin,
			e.ExitCode,
			status,
			time.Duration(e.DurationMS)*time.Millisecond,
		)
	}
	return w.Flush()
}

func newShortcutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "shortcut [bottle-id] [executable] [args...]",
		Short:         "Create an app bundle that launches through the bottle",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          createShortcut,
	}
	cmd.Flags().String("title", "", "Bundle display name (defaults to the executable name)")
	cmd.Flags().String("directory", "", "Where to place the bundle (defaults to ~/Applications/Vintner)")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func createShortcut(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	title, _ := cmd.Flags().GetString("title")
	directory, _ := cmd.Flags().GetString("directory")

	path, err := newClient().CreateShortcut(protocol.ShortcutParams{
		ID:         args[0],
		Executable: args[1],
		Args:       args[2:],
		Title:      title,
		Directory:  directory,
	})
	if err != nil {
		return out.Error("Failed to create shortcut", err)
	}
	return out.Success(fmt.Sprintf("Created shortcut %s", path), map[string]interface{}{
		"shortcut": path,
	})
}
