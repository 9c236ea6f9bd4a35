package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRecipesCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "recipes",
		Short:         "List recipes the daemon can apply",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listRecipes,
	}
}

func listRecipes(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	summaries, err := newClient().Recipes()
	if err != nil {
		return out.Error("Failed to list recipes", err)
	}

	if out.jsonMode {
		return out.Print(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No recipes found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Name, s.Description)
	}
	return w.Flush()
}

func newApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "apply",
		Short:         "Apply a recipe to a bottle",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          applyRecipe,
	}
	cmd.Flags().String("bottle", "", "Bottle id the recipe runs against")
	cmd.Flags().String("recipe", "", "Recipe id to apply")
	cmd.MarkFlagRequired("bottle")
	cmd.MarkFlagRequired("recipe")
	return cmd
}

func applyRecipe(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	bottleID, _ := cmd.Flags().GetString("bottle")
	recipeID, _ := cmd.Flags().GetString("recipe")

	result, err := newClient().Apply(bottleID, recipeID)
	if err != nil {
		return out.Error("Failed to apply recipe", err)
	}
	return out.Success(fmt.Sprintf("Applied recipe %s to bottle %s", result.Applied, bottleID), map[string]interface{}{
		"applied": result.Applied,
		"bottle":  bottleID,
	})
}

func newRuntimesCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "runtimes",
		Short:         "List wine runtimes the daemon can bind bottles to",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listRuntimes,
	}
}

func listRuntimes(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	runtimes, err := newClient().Runtimes()
	if err != nil {
		return out.Error("Failed to list runtimes", err)
	}

	if out.jsonMode {
		return out.Print(runtimes)
	}

	if len(runtimes) == 0 {
		fmt.Println("No wine runtimes installed")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tCHANNEL\tVERSION\tWINE64")
	for _, rt := range runtimes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rt.Label, rt.Channel, rt.Version, rt.Wine64Path)
	}
	return w.Flush()
}
