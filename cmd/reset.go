package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/facestab/internal/video"
	"github.com/spf13/cobra"
)

var (
	resetLedger bool
	resetFrames bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset state (frame directory, run ledger)",
	Long:  "Clears stored state. By default, it resets everything. Use flags to clear specific components.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetLedger && !resetFrames {
			resetLedger = true
			resetFrames = true
		}

		out := cmd.OutOrStdout()
		reader := bufio.NewReader(cmd.InOrStdin())

		if resetFrames {
			if confirm(reader, out, fmt.Sprintf("⚠️  Are you sure you want to delete all frames in '%s'?", opts.FramesDir)) {
				fmt.Fprintln(out, "🗑️  Clearing Frames...")
				dir := video.FrameDir{Dir: opts.FramesDir}
				n, err := dir.Reset()
				if err != nil {
					return showError("Failed to clear frames", err, nil)
				}
				fmt.Fprintf(out, "   Removed %d frames.\n", n)
			}
		}

		if resetLedger {
			if DB == nil {
				fmt.Fprintln(out, "ℹ️  No run ledger configured, skipping database.")
			} else if confirm(reader, out, "⚠️  Are you sure you want to DROP all ledger tables?") {
				fmt.Fprintln(out, "🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					return showError("Failed to reset database", err, nil)
				}
			}
		}

		fmt.Fprintln(out, "✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetLedger, "ledger", false, "Drop the run ledger tables")
	resetCmd.Flags().BoolVar(&resetFrames, "frames", false, "Delete frame_<n>.jpg files from the frame directory")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
