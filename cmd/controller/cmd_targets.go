package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paw2paw/hf-behavior/go-controller/internal/playbook"
)

var (
	targetsPlaybook string
	targetsSet      []string
)

// targetsCmd shows or patches a playbook's target overrides
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Show or patch a playbook's behavior targets",
	Long: `Without --set, lists every adjustable parameter with its SYSTEM value, the
playbook's override and the merged result.

Each --set applies one change: PARAM=VALUE writes an override (clamped to
[0,1]) and PARAM=null removes it. All changes are applied together or, if
any is rejected (for example because the playbook is published), not at all.`,
	Example: `  controller targets --playbook pb-1
  controller targets --playbook pb-1 --set BEH_WARMTH=0.7 --set BEH_PACE=null`,
	RunE: runTargets,
}

func init() {
	targetsCmd.Flags().StringVar(&targetsPlaybook, "playbook", "", "Playbook id")
	targetsCmd.Flags().StringArrayVar(&targetsSet, "set", nil, "PARAM=VALUE or PARAM=null (repeatable)")
	_ = targetsCmd.MarkFlagRequired("playbook")
}

func runTargets(cmd *cobra.Command, args []string) error {
	changes, err := parseChanges(targetsSet)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, release, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer release()

	var rows []playbook.Row
	if len(changes) == 0 {
		rows, err = b.PlaybookTargets(ctx, targetsPlaybook)
		if err != nil {
			return err
		}
	} else {
		res, err := b.PatchPlaybookTargets(ctx, targetsPlaybook, changes)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated=%d removed=%d", res.Updated, res.Removed)
		if len(res.Clamped) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), " clamped=%s", strings.Join(res.Clamped, ","))
		}
		fmt.Fprintln(cmd.OutOrStdout())
		rows = res.Targets
	}

	if jsonOut {
		return printJSON(rows)
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "PARAMETER\tGROUP\tSYSTEM\tPLAYBOOK\tEFFECTIVE\tSCOPE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.3f\t%s\n",
			r.ParameterID, dash(r.DomainGroup), optional(r.SystemValue), optional(r.PlaybookValue),
			r.EffectiveValue, r.EffectiveScope)
	}
	return tw.Flush()
}

// parseChanges turns PARAM=VALUE / PARAM=null flags into playbook changes.
func parseChanges(flags []string) ([]playbook.Change, error) {
	changes := make([]playbook.Change, 0, len(flags))
	for _, f := range flags {
		id, raw, ok := strings.Cut(f, "=")
		id, raw = strings.TrimSpace(id), strings.TrimSpace(raw)
		if !ok || id == "" || raw == "" {
			return nil, fmt.Errorf("--set %q: want PARAM=VALUE or PARAM=null", f)
		}
		c := playbook.Change{ParameterID: id}
		if !strings.EqualFold(raw, "null") {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("--set %q: %w", f, errors.Unwrap(err))
			}
			c.TargetValue = &v
		}
		changes = append(changes, c)
	}
	return changes, nil
}
