package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "List the identities loaded from the reference photos",
	Run: func(cmd *cobra.Command, args []string) {
		w, reg, err := startEngine(cmd.Context())
		if err != nil {
			utils.Die("Failed to load registry", err, workerLogs(w))
		}
		defer w.Close()

		if reg.Len() == 0 {
			fmt.Printf("No identities found in %s.\n", cfg.Registry.Dir)
			return
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "#\tNAME\tPHOTO\tDIM")
		fmt.Fprintln(tw, "-\t----\t-----\t---")
		for i, e := range reg.Entries() {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i+1, e.Name, filepath.Base(e.Source), len(e.Vec))
		}
		tw.Flush()

		for _, s := range reg.Skipped() {
			fmt.Fprintf(os.Stderr, "⚠️  Skipped %s: no face found\n", filepath.Base(s))
		}
	},
}

func init() {
	rootCmd.AddCommand(registryCmd)
}
