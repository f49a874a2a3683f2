package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/facestab/internal/store"
	"github.com/spf13/cobra"
)

var errNoLedger = errors.New("no run ledger configured (use --db or set POSTGRES_HOST)")

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past stabilization runs from the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if DB == nil {
			return errNoLedger
		}
		runs, err := DB.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return showError("Failed to list runs", err, nil)
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func printRuns(out io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tSTARTED\tFRAMES\tFACES\tSEC/FRAME\tOUTPUT")
	fmt.Fprintln(w, "---\t------\t-------\t------\t-----\t---------\t------")

	for _, r := range runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.3f\t%s\n", id, r.Status,
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Frames, r.FacesFound, r.AvgTimePerFrame, r.OutputPath)
	}
	w.Flush()
}
