package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paw2paw/hf-behavior/go-controller/internal/seed"
)

var seedFile string

// seedCmd loads parameters, owners, targets, profiles and specs from YAML
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a YAML seed document into the local database",
	Long: `Upserts the parameters, segments, playbooks, callers, scoped targets,
learner profiles and analysis specs of a seed document. Sections may be omitted.
Seeding always works on the local database, never through --server.`,
	Example: `  controller seed --file world.yaml`,
	RunE:    runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Seed document")
	_ = seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	doc, err := seed.Load(seedFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := seed.Apply(ctx, doc, seed.Stores{Targets: a.store, Profiles: a.local, Specs: a.specs})
	if err != nil {
		return fmt.Errorf("seed %s: %w", seedFile, err)
	}
	logger.Info("Seed applied", zap.String("file", seedFile), zap.Any("summary", sum))

	if jsonOut {
		return printJSON(sum)
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"parameters=%d segments=%d playbooks=%d callers=%d targets=%d profiles=%d specs=%d\n",
		sum.Parameters, sum.Segments, sum.Playbooks, sum.Callers, sum.Targets, sum.Profiles, sum.Specs)
	return nil
}
