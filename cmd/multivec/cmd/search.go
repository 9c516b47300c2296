package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/multivec/internal/output"
	"github.com/Aman-CERP/multivec/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	tenantID  string
	models    []string
	limit     int
	offset    int
	threshold float64
	lexical   bool
	format    string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexes with multi-model fusion",
		Long: `Search embeds the query with every ready realtime model, searches
each model's index concurrently, and fuses the ranked lists with
reciprocal rank fusion.

Examples:
  multivec search "payment terms" --tenant acme
  multivec search "reset procedure" --models minilm --limit 5
  multivec search "net 30" --lexical --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.tenantID, "tenant", "", "Scope results to a tenant")
	cmd.Flags().StringSliceVar(&opts.models, "models", nil, "Model aliases to search (default: all ready models)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Number of fused results to skip")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Minimum fused score to include")
	cmd.Flags().BoolVar(&opts.lexical, "lexical", false, "Include the keyword index as an extra fusion branch")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.Engine.Search(ctx, search.Request{
		Query:     query,
		TenantID:  opts.tenantID,
		Models:    opts.models,
		Limit:     opts.limit,
		Offset:    opts.offset,
		Threshold: opts.threshold,
		Lexical:   opts.lexical,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	for _, w := range resp.Warnings {
		out.Warning(w)
	}
	if len(resp.Results) == 0 {
		out.Dimf("No results for %q", query)
		return nil
	}

	out.Headerf("Found %d results for %q (%d branches, %dms)",
		len(resp.Results), query, resp.Branches, resp.DurationMS)
	out.Newline()

	for i, r := range resp.Results {
		text, _ := r.Payload["text"].(string)
		out.Result(opts.offset+i+1, r.ID, r.Score, text, 3)
	}
	return nil
}
