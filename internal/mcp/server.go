package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
	"github.com/Aman-CERP/multivec/internal/idempotency"
	"github.com/Aman-CERP/multivec/internal/ingest"
	"github.com/Aman-CERP/multivec/internal/model"
	"github.com/Aman-CERP/multivec/internal/reindex"
	"github.com/Aman-CERP/multivec/internal/search"
	"github.com/Aman-CERP/multivec/pkg/version"
)

// Server is the MCP server for multivec. It bridges MCP clients with
// the fused search engine, the ingestion pipeline, and the reindex
// orchestrator.
type Server struct {
	mcp          *mcp.Server
	engine       *search.Engine
	pipeline     *ingest.Pipeline
	orchestrator *reindex.Orchestrator
	registry     *model.Registry
	idem         *idempotency.Store
	logger       *slog.Logger
}

// Deps carries the collaborators the server exposes as tools. Engine,
// pipeline, and registry are required; orchestrator and idempotency
// store are optional and gate their tools when absent.
type Deps struct {
	Engine       *search.Engine
	Pipeline     *ingest.Pipeline
	Orchestrator *reindex.Orchestrator
	Registry     *model.Registry
	Idempotency  *idempotency.Store
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query     string   `json:"query" jsonschema:"the search query to execute"`
	TenantID  string   `json:"tenant_id,omitempty" jsonschema:"tenant to scope results to"`
	Models    []string `json:"models,omitempty" jsonschema:"model aliases to search, default all ready models"`
	Limit     int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Offset    int      `json:"offset,omitempty" jsonschema:"number of fused results to skip"`
	Threshold float64  `json:"threshold,omitempty" jsonschema:"minimum fused score to include"`
	Lexical   bool     `json:"lexical,omitempty" jsonschema:"include the keyword index as an extra fusion branch"`
}

// SearchResultOutput is a single fused result.
type SearchResultOutput struct {
	ID      string               `json:"id" jsonschema:"chunk identifier"`
	Score   float64              `json:"score" jsonschema:"fused relevance score"`
	Text    string               `json:"text,omitempty" jsonschema:"chunk text"`
	Sources []search.SourceScore `json:"sources" jsonschema:"per-branch scores and ranks"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results  []SearchResultOutput `json:"results" jsonschema:"fused search results"`
	Warnings []string             `json:"warnings,omitempty" jsonschema:"non-fatal branch failures"`
	Branches int                  `json:"branches" jsonschema:"number of branches that contributed"`
}

// IngestInput defines the input schema for the ingest tool.
type IngestInput struct {
	DocumentID     string            `json:"document_id" jsonschema:"stable document identifier"`
	TenantID       string            `json:"tenant_id" jsonschema:"owning tenant"`
	Scope          string            `json:"scope,omitempty" jsonschema:"logical grouping, e.g. contracts"`
	Text           string            `json:"text" jsonschema:"document text to index"`
	Metadata       map[string]string `json:"metadata,omitempty" jsonschema:"extra payload fields"`
	Models         []string          `json:"models,omitempty" jsonschema:"model aliases, default all ready bulk models"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" jsonschema:"dedupe key; replays return the original result"`
}

// IngestOutput defines the output schema for the ingest tool.
type IngestOutput struct {
	DocumentID string   `json:"document_id"`
	Chunks     int      `json:"chunks" jsonschema:"chunks written per model"`
	Models     []string `json:"models" jsonschema:"models the document was indexed under"`
	Warnings   []string `json:"warnings,omitempty"`
	Replayed   bool     `json:"replayed,omitempty" jsonschema:"true when served from the idempotency cache"`
}

// ReindexStartInput defines the input schema for reindex_start.
type ReindexStartInput struct {
	TenantID   string   `json:"tenant_id" jsonschema:"tenant whose documents to reindex"`
	Scope      string   `json:"scope,omitempty" jsonschema:"restrict to one scope"`
	DocumentID string   `json:"document_id,omitempty" jsonschema:"restrict to one document"`
	Models     []string `json:"models,omitempty" jsonschema:"model aliases to rebuild"`
	Actor      string   `json:"actor,omitempty" jsonschema:"who requested the reindex"`
}

// JobOutput is the serialized job state shared by the reindex tools.
type JobOutput struct {
	ID        string  `json:"id"`
	State     string  `json:"state"`
	Error     string  `json:"error,omitempty"`
	Total     int     `json:"total_docs"`
	Processed int     `json:"processed_docs"`
	Percent   float64 `json:"progress_percentage"`
	Current   string  `json:"current_doc,omitempty"`
}

// JobIDInput selects a job by ID.
type JobIDInput struct {
	JobID string `json:"job_id" jsonschema:"reindex job identifier"`
}

// ModelsInput is the (empty) input schema for the models tool.
type ModelsInput struct{}

// ModelOutput describes one registered model.
type ModelOutput struct {
	Alias    string  `json:"alias"`
	ID       string  `json:"id"`
	Dim      int     `json:"dim"`
	Health   string  `json:"health"`
	Enabled  bool    `json:"enabled"`
	Weight   float64 `json:"weight"`
	Profiles string  `json:"profiles,omitempty"`
}

// ModelsOutput defines the output schema for the models tool.
type ModelsOutput struct {
	Models []ModelOutput `json:"models"`
}

// NewServer creates a new MCP server and registers the tool surface.
func NewServer(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("search engine is required")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("ingest pipeline is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("model registry is required")
	}

	s := &Server{
		engine:       deps.Engine,
		pipeline:     deps.Pipeline,
		orchestrator: deps.Orchestrator,
		registry:     deps.Registry,
		idem:         deps.Idempotency,
		logger:       slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "multivec",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// registerTools registers the tool surface with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Fused multi-model search. Embeds the query with every ready model, searches each model's index concurrently, and merges the ranked lists with reciprocal rank fusion.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest",
		Description: "Chunk a document and index it under every ready model. Pass idempotency_key to make retries safe: an identical replay returns the original result without re-indexing.",
	}, s.ingestHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "models",
		Description: "List registered embedding models with their health and dimensions.",
	}, s.modelsHandler)

	count := 3
	if s.orchestrator != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "reindex_start",
			Description: "Start a background reindex of a tenant, scope, or single document. Fails if an overlapping reindex is already running.",
		}, s.reindexStartHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "reindex_status",
			Description: "Check progress of a reindex job by ID.",
		}, s.reindexStatusHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "reindex_cancel",
			Description: "Request cancellation of a running reindex job. The job stops at the next document boundary.",
		}, s.reindexCancelHandler)
		count += 3
	}

	s.logger.Info("MCP tools registered", slog.Int("count", count))
}

// searchHandler is the MCP SDK handler for the search tool.
func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.Int("limit", input.Limit))

	resp, err := s.engine.Search(ctx, search.Request{
		Query:     input.Query,
		TenantID:  input.TenantID,
		Models:    input.Models,
		Limit:     input.Limit,
		Offset:    input.Offset,
		Threshold: input.Threshold,
		Lexical:   input.Lexical,
	})
	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	out := SearchOutput{
		Results:  make([]SearchResultOutput, 0, len(resp.Results)),
		Warnings: resp.Warnings,
		Branches: resp.Branches,
	}
	for _, r := range resp.Results {
		item := SearchResultOutput{ID: r.ID, Score: r.Score, Sources: r.Sources}
		if text, ok := r.Payload["text"].(string); ok {
			item.Text = text
		}
		out.Results = append(out.Results, item)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(out.Results)))
	return nil, out, nil
}

// ingestHandler is the MCP SDK handler for the ingest tool. When an
// idempotency key is supplied the request body is fingerprinted and
// replays are served from the cache without touching the indexes.
func (s *Server) ingestHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (
	*mcp.CallToolResult,
	IngestOutput,
	error,
) {
	if input.DocumentID == "" || input.TenantID == "" {
		return nil, IngestOutput{}, NewInvalidParamsError("document_id and tenant_id are required")
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, IngestOutput{}, NewInvalidParamsError("text must not be empty")
	}

	if input.IdempotencyKey != "" && s.idem != nil {
		return s.ingestIdempotent(ctx, input)
	}

	out, err := s.runIngest(ctx, input)
	if err != nil {
		return nil, IngestOutput{}, MapError(err)
	}
	return nil, *out, nil
}

// ingestIdempotent wraps runIngest in an idempotency claim.
func (s *Server) ingestIdempotent(ctx context.Context, input IngestInput) (
	*mcp.CallToolResult,
	IngestOutput,
	error,
) {
	// The key is not part of the fingerprint: entries are scoped by the
	// full request hash, so the same body under the same key replays and
	// a different body is an independent request, not a masked replay.
	body := input
	body.IdempotencyKey = ""
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, IngestOutput{}, MapError(mverr.InternalError("encode ingest request", err))
	}
	hash, err := idempotency.RequestHash("tools/call", "ingest", raw)
	if err != nil {
		return nil, IngestOutput{}, NewInvalidParamsError(err.Error())
	}

	// Stdio sessions carry no authenticated user; auth lives upstream.
	const userID = ""
	decision, err := s.idem.Begin(ctx, input.TenantID, userID, input.IdempotencyKey, hash)
	if err != nil {
		return nil, IngestOutput{}, MapError(err)
	}

	switch decision.Outcome {
	case idempotency.OutcomeCached:
		var cached IngestOutput
		if err := json.Unmarshal(decision.Response, &cached); err != nil {
			return nil, IngestOutput{}, MapError(mverr.InternalError("decode cached response", err))
		}
		cached.Replayed = true
		s.logger.Info("ingest replayed from idempotency cache",
			slog.String("tenant_id", input.TenantID),
			slog.String("key", input.IdempotencyKey))
		return nil, cached, nil
	case idempotency.OutcomeInFlight:
		return nil, IngestOutput{}, &MCPError{
			Code:    ErrCodeConflict,
			Message: fmt.Sprintf("An identical request with key %q is still in flight.", input.IdempotencyKey),
		}
	}

	out, ingestErr := s.runIngest(ctx, input)
	if ingestErr != nil {
		// Release the slot so the caller can retry after a failure.
		if abandonErr := s.idem.Abandon(ctx, input.TenantID, userID, input.IdempotencyKey, hash); abandonErr != nil {
			s.logger.Warn("abandon idempotency slot failed",
				slog.String("key", input.IdempotencyKey),
				slog.String("error", abandonErr.Error()))
		}
		return nil, IngestOutput{}, MapError(ingestErr)
	}

	stored, err := json.Marshal(out)
	if err != nil {
		return nil, IngestOutput{}, MapError(mverr.InternalError("encode ingest response", err))
	}
	if err := s.idem.Complete(ctx, input.TenantID, userID, input.IdempotencyKey, hash, stored); err != nil {
		return nil, IngestOutput{}, MapError(err)
	}
	return nil, *out, nil
}

func (s *Server) runIngest(ctx context.Context, input IngestInput) (*IngestOutput, error) {
	result, err := s.pipeline.IngestForModels(ctx, ingest.Document{
		ID:       input.DocumentID,
		TenantID: input.TenantID,
		Scope:    input.Scope,
		Text:     input.Text,
		Metadata: input.Metadata,
	}, input.Models)
	if err != nil {
		return nil, err
	}
	return &IngestOutput{
		DocumentID: result.DocumentID,
		Chunks:     result.Chunks,
		Models:     result.Models,
		Warnings:   result.Warnings,
	}, nil
}

// modelsHandler is the MCP SDK handler for the models tool.
func (s *Server) modelsHandler(_ context.Context, _ *mcp.CallToolRequest, _ ModelsInput) (
	*mcp.CallToolResult,
	ModelsOutput,
	error,
) {
	configs := s.registry.List(false)
	out := ModelsOutput{Models: make([]ModelOutput, 0, len(configs))}
	for _, cfg := range configs {
		profiles := make([]string, 0, len(cfg.Queues))
		for p := range cfg.Queues {
			profiles = append(profiles, string(p))
		}
		out.Models = append(out.Models, ModelOutput{
			Alias:    cfg.Alias,
			ID:       cfg.ID,
			Dim:      cfg.Dim,
			Health:   string(cfg.Health),
			Enabled:  cfg.Enabled,
			Weight:   cfg.Weight,
			Profiles: strings.Join(profiles, ","),
		})
	}
	return nil, out, nil
}

// reindexStartHandler is the MCP SDK handler for the reindex_start tool.
func (s *Server) reindexStartHandler(ctx context.Context, _ *mcp.CallToolRequest, input ReindexStartInput) (
	*mcp.CallToolResult,
	JobOutput,
	error,
) {
	if input.TenantID == "" {
		return nil, JobOutput{}, NewInvalidParamsError("tenant_id is required")
	}

	job, err := s.orchestrator.Start(ctx, reindex.StartRequest{
		Target: reindex.Target{
			TenantID:   input.TenantID,
			Scope:      input.Scope,
			DocumentID: input.DocumentID,
		},
		Models:  input.Models,
		Trigger: reindex.TriggerManual,
		Actor:   input.Actor,
	})
	if err != nil {
		return nil, JobOutput{}, MapError(err)
	}

	s.logger.Info("reindex started",
		slog.String("job_id", job.ID),
		slog.String("target", job.Target.String()))
	return nil, toJobOutput(job), nil
}

// reindexStatusHandler is the MCP SDK handler for the reindex_status tool.
func (s *Server) reindexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, input JobIDInput) (
	*mcp.CallToolResult,
	JobOutput,
	error,
) {
	if input.JobID == "" {
		return nil, JobOutput{}, NewInvalidParamsError("job_id is required")
	}
	job, err := s.orchestrator.Status(ctx, input.JobID)
	if err != nil {
		return nil, JobOutput{}, MapError(err)
	}
	return nil, toJobOutput(job), nil
}

// reindexCancelHandler is the MCP SDK handler for the reindex_cancel tool.
func (s *Server) reindexCancelHandler(ctx context.Context, _ *mcp.CallToolRequest, input JobIDInput) (
	*mcp.CallToolResult,
	JobOutput,
	error,
) {
	if input.JobID == "" {
		return nil, JobOutput{}, NewInvalidParamsError("job_id is required")
	}
	job, err := s.orchestrator.Cancel(ctx, input.JobID)
	if err != nil {
		return nil, JobOutput{}, MapError(err)
	}
	return nil, toJobOutput(job), nil
}

func toJobOutput(job *reindex.Job) JobOutput {
	return JobOutput{
		ID:        job.ID,
		State:     string(job.State),
		Error:     job.Error,
		Total:     job.Progress.TotalDocs,
		Processed: job.Progress.ProcessedDocs,
		Percent:   job.Progress.Percent(),
		Current:   job.Progress.CurrentDoc,
	}
}

// Serve runs the server over the given transport until ctx is canceled.
// Only stdio is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
