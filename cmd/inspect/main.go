package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/paw2paw/hf-behavior/go-controller/internal/cascade"
	"github.com/paw2paw/hf-behavior/go-controller/internal/logging"
	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

// #region main

func main() {
	dbPath := flag.String("db", envOr("HF_DB", ""), "path to behavior_targets.db")
	caller := flag.String("caller", "", "caller whose cascade to show")
	param := flag.String("param", "", "show only one parameter")
	last := flag.Int("last", 10, "show N most recent adaptations")
	legacy := flag.Bool("legacy-caller-scope", false, "include the legacy CALLER layer")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" || *caller == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/behavior_targets.db --caller id [--param id] [--last N] [--json]")
		os.Exit(2)
	}

	store, err := targets.NewStore(*dbPath, targets.WithLegacyCallerScope(*legacy))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := run(store, *caller, *param, *last, *legacy, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region report

type report struct {
	CallerID    string                    `json:"caller_id"`
	PlaybookID  string                    `json:"playbook_id,omitempty"`
	SegmentID   string                    `json:"segment_id,omitempty"`
	Targets     []cascade.EffectiveTarget `json:"targets"`
	Warnings    []string                  `json:"warnings,omitempty"`
	Adaptations []adaptationRow           `json:"adaptations"`
}

type adaptationRow struct {
	CreatedAt   string  `json:"created_at"`
	SpecID      string  `json:"spec_id"`
	ParameterID string  `json:"parameter_id"`
	Adjustment  string  `json:"adjustment"`
	Previous    float64 `json:"previous"`
	New         float64 `json:"new"`
	Decision    string  `json:"decision"`
}

func run(store *targets.Store, callerID, param string, last int, legacy, jsonOut bool) error {
	cfg := cascade.DefaultConfig()
	cfg.LegacyCallerScope = legacy
	res, err := cascade.NewResolver(store, cfg, nil).Resolve(context.Background(), callerID)
	if err != nil {
		return err
	}

	out := report{
		CallerID:   res.CallerID,
		PlaybookID: res.PlaybookID,
		SegmentID:  res.SegmentID,
		Warnings:   res.Warnings,
	}
	for _, t := range res.Targets {
		if param == "" || t.ParameterID == param {
			out.Targets = append(out.Targets, t)
		}
	}
	if param != "" && len(out.Targets) == 0 {
		return fmt.Errorf("no adjustable parameter %q", param)
	}

	if err := logging.EnsureSchema(store.DB()); err != nil {
		return err
	}
	entries, err := logging.ListAdaptations(store.DB(), callerID, last)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if param != "" && e.ParameterID != param {
			continue
		}
		out.Adaptations = append(out.Adaptations, adaptationRow{
			CreatedAt:   e.CreatedAt.Format("2006-01-02T15:04:05Z"),
			SpecID:      e.SpecID,
			ParameterID: e.ParameterID,
			Adjustment:  e.Adjustment,
			Previous:    e.PreviousValue,
			New:         e.NewValue,
			Decision:    e.Decision,
		})
	}

	if jsonOut {
		return printJSON(out)
	}
	printReport(out)
	return nil
}

// #endregion report

// #region output

func printReport(r report) {
	fmt.Printf("Caller:   %s\n", r.CallerID)
	fmt.Printf("Playbook: %s\n", orDash(r.PlaybookID))
	fmt.Printf("Segment:  %s\n", orDash(r.SegmentID))

	fmt.Printf("\n%-20s  %9s  %-8s  %s\n", "Parameter", "Effective", "Scope", "Layers")
	fmt.Printf("%-20s+-%9s+-%-8s+-%s\n", strings.Repeat("-", 20), "---------", "--------", "--------------------")
	for _, t := range r.Targets {
		fmt.Printf("%-20s  %9.3f  %-8s  %s\n", t.ParameterID, t.EffectiveValue, t.EffectiveScope, layerChain(t.Layers))
		if t.Personalized != nil {
			fmt.Printf("%-20s  %9.3f  %-8s  confidence %.2f, %s\n", "", t.Personalized.Value, "personal",
				t.Personalized.Confidence, t.Personalized.UpdatedAt.Format("2006-01-02T15:04:05Z"))
		}
	}

	for _, w := range r.Warnings {
		fmt.Printf("warning: %s\n", w)
	}

	if len(r.Adaptations) == 0 {
		return
	}
	fmt.Printf("\nRecent adaptations:\n")
	for _, a := range r.Adaptations {
		fmt.Printf("  %s  %-16s  %-16s  %-8s  %.3f -> %.3f  (%s)\n",
			a.CreatedAt, a.SpecID, a.ParameterID, a.Adjustment, a.Previous, a.New, a.Decision)
	}
}

// layerChain renders provenance lowest scope first, e.g. "SYSTEM 0.500 > PLAYBOOK(Tutoring v1) 0.600".
func layerChain(layers []cascade.Layer) string {
	if len(layers) == 0 {
		return "(default)"
	}
	parts := make([]string, 0, len(layers))
	for _, l := range layers {
		label := string(l.Scope)
		if l.Scope != targets.ScopeSystem && l.OwnerLabel != "" {
			label += "(" + l.OwnerLabel + ")"
		}
		parts = append(parts, fmt.Sprintf("%s %.3f", label, l.Value))
	}
	return strings.Join(parts, " > ")
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion output
