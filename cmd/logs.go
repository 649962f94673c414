package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/store"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var (
	logsFrom      string
	logsTo        string
	logsFrequency bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List stored door events",
	Long:  "Lists access-log entries, newest first. --from and --to (YYYY-MM-DD) filter only when both are given.",
	Run: func(cmd *cobra.Command, args []string) {
		rng, err := parseRange(logsFrom, logsTo)
		if err != nil {
			utils.Die("Invalid date range", err, nil)
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			utils.Die("Database unavailable", err, nil)
		}
		defer st.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		defer w.Flush()

		if logsFrequency {
			freq, err := st.Frequency(ctx, rng)
			if err != nil {
				utils.Die("Failed to count events", err, nil)
			}
			fmt.Fprintln(w, "USER\tEVENTS")
			fmt.Fprintln(w, "----\t------")
			for _, f := range freq {
				fmt.Fprintf(w, "%s\t%d\n", f.UserName, f.Count)
			}
			return
		}

		logs, err := st.ListLogs(ctx, rng)
		if err != nil {
			utils.Die("Failed to list events", err, nil)
		}
		if len(logs) == 0 {
			fmt.Println("No events found.")
			return
		}

		fmt.Fprintln(w, "ID\tDATE\tTIME\tUSER\tREQUEST\tNOTE")
		fmt.Fprintln(w, "--\t----\t----\t----\t-------\t----")
		for _, l := range logs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.Date, l.Time, l.UserName, deref(l.FingerprintID), deref(l.Note))
		}
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsFrom, "from", "", "First day to include (YYYY-MM-DD)")
	logsCmd.Flags().StringVar(&logsTo, "to", "", "Last day to include (YYYY-MM-DD)")
	logsCmd.Flags().BoolVar(&logsFrequency, "frequency", false, "Show event counts per user instead of events")
	rootCmd.AddCommand(logsCmd)
}

// parseRange mirrors the backend: a filter needs both bounds.
func parseRange(from, to string) (*store.DateRange, error) {
	if from == "" || to == "" {
		return nil, nil
	}
	f, err := time.Parse(store.DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	t, err := time.Parse(store.DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}
	if t.Before(f) {
		return nil, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return &store.DateRange{From: f, To: t}, nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
