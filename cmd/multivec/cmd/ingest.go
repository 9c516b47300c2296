package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/multivec/internal/ingest"
	"github.com/Aman-CERP/multivec/internal/output"
)

// ingestOptions holds CLI flags for ingest.
type ingestOptions struct {
	docID    string
	tenantID string
	scope    string
	models   []string
	meta     []string
	delete   bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Chunk and index a document under every ready model",
		Long: `Ingest reads a document from a file (or stdin when the argument
is "-" or omitted), chunks it, embeds each chunk with every ready bulk
model, and writes the vectors to the per-model indexes.

Examples:
  multivec ingest contract.md --id c-2024-001 --tenant acme
  cat notes.txt | multivec ingest --id n1 --tenant acme --scope notes
  multivec ingest --id c-2024-001 --tenant acme --delete`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.docID, "id", "", "Document ID (required)")
	cmd.Flags().StringVar(&opts.tenantID, "tenant", "", "Owning tenant (required)")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "Logical scope, e.g. contracts")
	cmd.Flags().StringSliceVar(&opts.models, "models", nil, "Model aliases (default: all ready bulk models)")
	cmd.Flags().StringSliceVar(&opts.meta, "meta", nil, "Extra metadata as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.delete, "delete", false, "Remove the document from every index instead of ingesting")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, args []string, opts ingestOptions) error {
	out := output.New(cmd.OutOrStdout())

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if opts.delete {
		removed, err := a.Pipeline.Delete(ctx, opts.tenantID, opts.docID)
		if err != nil {
			return err
		}
		if err := a.Documents.Delete(ctx, opts.tenantID, opts.docID); err != nil {
			return err
		}
		if err := a.Save(); err != nil {
			return err
		}
		out.Successf("removed %s (%d chunks)", opts.docID, removed)
		return nil
	}

	text, err := readDocument(args)
	if err != nil {
		return err
	}

	metadata, err := parseMeta(opts.meta)
	if err != nil {
		return err
	}

	doc := ingest.Document{
		ID:       opts.docID,
		TenantID: opts.tenantID,
		Scope:    opts.scope,
		Text:     text,
		Metadata: metadata,
	}

	// Record the raw document first so a reindex can replay it.
	if err := a.Documents.Save(ctx, doc); err != nil {
		return err
	}

	result, err := a.Pipeline.IngestForModels(ctx, doc, opts.models)
	if err != nil {
		return err
	}
	if err := a.Save(); err != nil {
		return err
	}

	out.Successf("indexed %s: %d chunks under %s",
		result.DocumentID, result.Chunks, strings.Join(result.Models, ", "))
	for _, w := range result.Warnings {
		out.Warning(w)
	}
	return nil
}

// readDocument reads the document text from the file argument or stdin.
func readDocument(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return string(data), nil
}

// parseMeta parses repeated key=value flags.
func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q, expected key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}
