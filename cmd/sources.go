package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered sources and their availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd.Context(), cost.Ceilings{})
		if err != nil {
			return err
		}
		defer env.Close()

		formatSources(os.Stdout, env.registry.Ordered())
		return nil
	},
}

func formatSources(out *os.File, adapters []source.Adapter) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tCATEGORY\tEST_COST\tAVAILABLE")
	for _, a := range adapters {
		fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%v\n",
			a.Name(), a.Type(), a.Category(), a.EstimatedCost(), a.Available())
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
