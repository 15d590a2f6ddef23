package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wuwenbin0122/modelchat/internal/app"
	"github.com/wuwenbin0122/modelchat/internal/selector"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

var selectCmd = &cobra.Command{
	Use:   "select <text...>",
	Short: "Show the routing decision for a message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSelect,
}

func runModels(cmd *cobra.Command, args []string) error {
	cat, err := app.LoadCatalog(overridesPath)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCOST\tCONTEXT\tPROVIDER MODEL\tTEMP\tMAX TOKENS")
	for _, info := range cat.List() {
		params, err := cat.Params(info.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.1f\t%d\n",
			info.ID, info.Name, info.CostTier, info.ContextWindow,
			params.ProviderModel, params.Temperature, params.MaxTokens)
	}
	return w.Flush()
}

func runSelect(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	decision := selector.Explain(text)

	cat, err := app.LoadCatalog(overridesPath)
	if err != nil {
		return err
	}
	info, err := cat.Lookup(decision.Model)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "model:               %s (%s)\n", decision.Model, info.Name)
	fmt.Fprintf(out, "reason:              %s\n", decision.Reason())
	fmt.Fprintf(out, "needs clarification: %t\n", selector.NeedsClarification(text))
	fmt.Fprintf(out, "needs search:        %t\n", selector.NeedsSearch(text))
	return nil
}
