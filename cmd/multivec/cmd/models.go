package cmd

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/multivec/internal/model"
	"github.com/Aman-CERP/multivec/internal/output"
)

func newModelsCmd() *cobra.Command {
	var jsonOutput bool
	var all bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List registered embedding models",
		Long: `Models lists the registry contents: alias, dimension, health,
weight, and the profiles each model serves. The registry comes from the
models file and falls back to the built-in default set when the file is
missing or empty.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runModels(cmd.Context(), cmd, jsonOutput, all)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&all, "all", false, "Include disabled models")

	return cmd
}

func runModels(_ context.Context, cmd *cobra.Command, jsonOutput, all bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Listing does not need the data-dir lock or the indexes.
	registry := model.LoadRegistry(cfg.ModelsFile)
	configs := registry.List(!all)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(configs)
	}

	out := output.New(cmd.OutOrStdout())
	if len(configs) == 0 {
		out.Dim("No models registered.")
		return nil
	}

	out.Headerf("%d models", len(configs))
	out.Newline()
	for _, c := range configs {
		profiles := make([]string, 0, len(c.Queues))
		for p := range c.Queues {
			profiles = append(profiles, string(p))
		}
		sort.Strings(profiles)

		state := string(c.Health)
		if !c.Enabled {
			state += ", disabled"
		}
		out.Linef("%s  (%s)", c.Alias, c.ID)
		out.Dimf("   dim=%d  weight=%.1f  profiles=%s  %s",
			c.Dim, c.Weight, strings.Join(profiles, ","), state)
	}
	return nil
}
