package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paw2paw/hf-behavior/go-controller/internal/logging"
)

var (
	historyCaller string
	historyLimit  int
)

// historyCmd prints the adaptation audit log for a caller
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show applied adaptations for a caller, newest first",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyCaller, "caller", "", "Caller id")
	historyCmd.Flags().IntVarP(&historyLimit, "last", "n", 20, "Show N most recent entries (0 for all)")
	_ = historyCmd.MarkFlagRequired("caller")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := logging.ListAdaptations(a.store.DB(), historyCaller, historyLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no adaptations found")
		return nil
	}

	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "TIME\tRUN\tSPEC\tPARAMETER\tADJUSTMENT\tPREVIOUS\tNEW\tDECISION\tRATIONALE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.3f\t%.3f\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02T15:04:05Z"), shortID(e.RunID), e.SpecID, e.ParameterID,
			e.Adjustment, e.PreviousValue, e.NewValue, e.Decision, dash(e.Rationale))
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
