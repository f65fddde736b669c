package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/paw2paw/hf-behavior/go-controller/internal/cascade"
)

// #region output
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// optional formats a nullable value, "-" when absent.
func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

// printResolution writes one row per parameter: the effective value, where it came
// from, and the personalised value and measurement when present.
func printResolution(w io.Writer, res *cascade.Resolution) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "PARAMETER\tEFFECTIVE\tSCOPE\tLAYERS\tPERSONAL\tACTUAL\tDELTA")
	for _, t := range res.Targets {
		var personal *float64
		if t.Personalized != nil {
			personal = &t.Personalized.Value
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%s\t%d\t%s\t%s\t%s\n",
			t.ParameterID, t.EffectiveValue, t.EffectiveScope, len(t.Layers),
			optional(personal), optional(t.ActualValue), optional(t.Delta))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return nil
}

// #endregion output
