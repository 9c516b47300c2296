// Package search fans a query out across model indexes and fuses the
// ranked lists with Reciprocal Rank Fusion (RRF).
package search

import "github.com/Aman-CERP/multivec/internal/store"

// SourceScore records one branch's contribution to a fused result.
type SourceScore struct {
	// Branch is the model alias, or "lexical" for the keyword branch.
	Branch string `json:"branch"`

	// Score is the branch's raw similarity or BM25 score.
	Score float64 `json:"score"`

	// Rank is the 1-indexed position in the branch's list.
	Rank int `json:"rank"`
}

// FusedResult is a single result after RRF fusion across branches.
type FusedResult struct {
	// ID is the chunk identifier.
	ID string `json:"id"`

	// Score is the combined RRF score.
	Score float64 `json:"score"`

	// Sources lists the branches this chunk appeared in.
	Sources []SourceScore `json:"sources"`

	// Payload is the chunk payload from the first branch that carried
	// one.
	Payload map[string]any `json:"payload,omitempty"`
}

// BranchResult is one branch's ranked list, best first.
type BranchResult struct {
	Branch string
	Hits   []*store.ScoredPoint
}

// Request is a fused search request.
type Request struct {
	// Query is the free-text query.
	Query string `json:"query"`

	// TenantID scopes results to a tenant. Empty means no scoping.
	TenantID string `json:"tenant_id,omitempty"`

	// Models optionally restricts the vector branches to these
	// aliases. Empty means all ready realtime models.
	Models []string `json:"models,omitempty"`

	// Limit is the page size. Zero uses DefaultLimit.
	Limit int `json:"limit,omitempty"`

	// Offset skips fused results for pagination.
	Offset int `json:"offset,omitempty"`

	// Threshold drops fused results scoring below it. Applied to the
	// fused score only, never to per-branch scores.
	Threshold float64 `json:"threshold,omitempty"`

	// Filter restricts vector branches by payload equality.
	Filter store.Filter `json:"filter,omitempty"`

	// Lexical enables the keyword branch alongside the vector branches.
	Lexical bool `json:"lexical,omitempty"`
}

// Response is a fused search response.
type Response struct {
	// Results is the fused page, best first.
	Results []*FusedResult `json:"results"`

	// Warnings notes branches that failed or inputs that were adjusted.
	Warnings []string `json:"warnings,omitempty"`

	// Branches is the number of branches that contributed.
	Branches int `json:"branches"`

	// DurationMS is the total search wall time.
	DurationMS int64 `json:"duration_ms"`
}
