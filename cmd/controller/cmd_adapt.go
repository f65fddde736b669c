package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paw2paw/hf-behavior/go-controller/internal/adapt"
)

var (
	adaptCallers  []string
	adaptParallel int
)

// adaptCmd runs the adaptation rule engine
var adaptCmd = &cobra.Command{
	Use:   "adapt",
	Short: "Run adaptation rules for one or more callers",
	Long: `Evaluates every active rule-bearing spec against each caller's learner
profile and writes the resulting personalised caller targets.

Failures inside a run are reported in the run's errors list; the command
exits non-zero only when the run could not be started.`,
	Example: `  controller adapt --caller c-1
  controller adapt --caller c-1 --caller c-2 --parallel 2 --json`,
	RunE: runAdapt,
}

func init() {
	adaptCmd.Flags().StringArrayVar(&adaptCallers, "caller", nil, "Caller id (repeatable)")
	adaptCmd.Flags().IntVar(&adaptParallel, "parallel", 4, "Maximum callers adapted at once")
	_ = adaptCmd.MarkFlagRequired("caller")
}

func runAdapt(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, release, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer release()

	var results []adapt.Result
	if lb, ok := b.(localBackend); ok {
		results = lb.engine.RunAll(ctx, adaptCallers, adaptParallel)
	} else {
		for _, id := range adaptCallers {
			res, err := b.RunAdaptation(ctx, id)
			if err != nil {
				return fmt.Errorf("adapt %s: %w", id, err)
			}
			results = append(results, res)
		}
	}

	if jsonOut {
		return printJSON(results)
	}
	out := cmd.OutOrStdout()
	tw := newTable(out)
	fmt.Fprintln(tw, "CALLER\tSPECS\tEVALUATED\tFIRED\tCREATED\tUPDATED\tSKIPPED\tERRORS")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.CallerID, r.SpecsRun, r.RulesEvaluated, r.RulesFired,
			r.TargetsCreated, r.TargetsUpdated, r.ActionsSkipped, len(r.Errors))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range results {
		for _, e := range r.Errors {
			fmt.Fprintf(out, "  %s: %s\n", r.CallerID, e)
		}
	}
	return nil
}
