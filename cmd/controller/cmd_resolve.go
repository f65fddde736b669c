package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paw2paw/hf-behavior/go-controller/internal/cascade"
)

var (
	resolveCaller string
	resolveCall   string
)

// resolveCmd prints a caller's or call's effective targets
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve effective behavior targets for a caller or a call",
	Long: `Merges the SYSTEM, PLAYBOOK and SEGMENT layers for the caller's memberships
and prints one effective target per adjustable parameter. With --call the
latest measurement of each parameter in that call is shown next to its target.`,
	Example: `  controller resolve --caller c-1
  controller resolve --call call-42 --json`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveCaller, "caller", "", "Caller id")
	resolveCmd.Flags().StringVar(&resolveCall, "call", "", "Call id")
	resolveCmd.MarkFlagsMutuallyExclusive("caller", "call")
	resolveCmd.MarkFlagsOneRequired("caller", "call")
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, release, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer release()

	var res *cascade.Resolution
	switch {
	case resolveCall != "":
		res, err = b.ResolveCallTargets(ctx, resolveCall)
	case resolveCaller != "":
		res, err = b.ResolveTargets(ctx, resolveCaller)
	default:
		return errors.New("one of --caller or --call is required")
	}
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(res)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "caller=%s playbook=%s segment=%s\n", dash(res.CallerID), dash(res.PlaybookID), dash(res.SegmentID))
	return printResolution(out, res)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
