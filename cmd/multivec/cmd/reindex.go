package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/multivec/internal/output"
	"github.com/Aman-CERP/multivec/internal/reindex"
)

func newReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Manage background reindex jobs",
	}

	cmd.AddCommand(newReindexStartCmd())
	cmd.AddCommand(newReindexStatusCmd())
	cmd.AddCommand(newReindexCancelCmd())
	cmd.AddCommand(newReindexListCmd())

	return cmd
}

func newReindexStartCmd() *cobra.Command {
	var (
		tenantID string
		scope    string
		docID    string
		models   []string
		actor    string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a reindex of a tenant, scope, or document",
		Long: `Start replays the stored documents matching the target through the
ingestion pipeline. At most one job may run per overlapping target; a
document target conflicts with a running scope or tenant job covering
the same documents.

Examples:
  multivec reindex start --tenant acme
  multivec reindex start --tenant acme --scope contracts --wait
  multivec reindex start --tenant acme --document c-2024-001`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReindexStart(cmd.Context(), cmd, reindex.StartRequest{
				Target: reindex.Target{
					TenantID:   tenantID,
					Scope:      scope,
					DocumentID: docID,
				},
				Models: models,
				Actor:  actor,
			}, wait)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to reindex (required)")
	cmd.Flags().StringVar(&scope, "scope", "", "Restrict to one scope")
	cmd.Flags().StringVar(&docID, "document", "", "Restrict to one document")
	cmd.Flags().StringSliceVar(&models, "models", nil, "Model aliases to rebuild (default: all ready bulk models)")
	cmd.Flags().StringVar(&actor, "actor", "cli", "Who requested the reindex")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the job finishes")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runReindexStart(ctx context.Context, cmd *cobra.Command, req reindex.StartRequest, wait bool) error {
	out := output.New(cmd.OutOrStdout())

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	job, err := a.Orchestrator.Start(ctx, req)
	if err != nil {
		return err
	}
	out.Successf("started job %s for %s", job.ID, job.Target.String())

	if !wait {
		out.Dimf("check progress with: multivec reindex status %s", job.ID)
		return nil
	}

	a.Orchestrator.Wait(job.ID)
	final, err := a.Orchestrator.Status(ctx, job.ID)
	if err != nil {
		return err
	}
	if err := a.Save(); err != nil {
		return err
	}
	printJob(out, final)
	return nil
}

func newReindexStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show progress of a reindex job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			job, err := a.Orchestrator.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(job)
			}
			printJob(output.New(cmd.OutOrStdout()), job)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newReindexCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running reindex job",
		Long: `Cancel requests cooperative cancellation: the job stops at the next
document boundary and keeps the work already done.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			job, err := a.Orchestrator.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("cancellation requested for job %s", job.ID)
			return nil
		},
	}
}

func newReindexListCmd() *cobra.Command {
	var tenantID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent reindex jobs for a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			jobs, err := a.Orchestrator.List(cmd.Context(), tenantID, limit)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if len(jobs) == 0 {
				out.Dim("No jobs.")
				return nil
			}
			for _, job := range jobs {
				out.Linef("%s  %-9s  %s  %d/%d",
					job.ID, job.State, job.Target.String(),
					job.Progress.ProcessedDocs, job.Progress.TotalDocs)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to list jobs for (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func printJob(out *output.Writer, job *reindex.Job) {
	out.Linef("job %s: %s", job.ID, job.State)
	out.Dimf("   target=%s  trigger=%s  actor=%s", job.Target.String(), job.Trigger, job.Actor)
	out.Dimf("   progress=%d/%d (%.0f%%)", job.Progress.ProcessedDocs, job.Progress.TotalDocs, job.Progress.Percent())
	if job.Progress.CurrentDoc != "" {
		out.Dimf("   current=%s", job.Progress.CurrentDoc)
	}
	if job.Error != "" {
		out.Error(job.Error)
	}
}
