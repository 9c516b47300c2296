// Package reindex runs background re-embedding jobs over tenant,
// scope or single-document targets, one job per overlapping target at
// a time.
package reindex

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a reindex job.
type State string

const (
	// StatePending means the job is accepted but not started.
	StatePending State = "PENDING"
	// StateRunning means the job is processing documents.
	StateRunning State = "RUNNING"
	// StateCompleted means every document was reindexed.
	StateCompleted State = "COMPLETED"
	// StateFailed means a document failed and the job stopped.
	StateFailed State = "FAILED"
	// StateCancelled means the job was cancelled before finishing.
	StateCancelled State = "CANCELLED"
)

// Active reports whether a job in this state still holds its target.
func (s State) Active() bool {
	return s == StatePending || s == StateRunning
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Trigger records what started a job.
type Trigger string

const (
	// TriggerManual is an operator-initiated job.
	TriggerManual Trigger = "manual"
	// TriggerModelAdded reindexes after a new model joined the registry.
	TriggerModelAdded Trigger = "model_added"
	// TriggerModelUpdated reindexes after a model revision changed.
	TriggerModelUpdated Trigger = "model_updated"
)

// Target selects the documents a job covers. TenantID is required;
// Scope and DocumentID narrow it down. DocumentID is the most specific
// selector, then Scope, then the whole tenant.
type Target struct {
	TenantID   string `json:"tenant_id"`
	Scope      string `json:"scope,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// Specificity orders targets: document beats scope beats tenant.
func (t Target) Specificity() int {
	switch {
	case t.DocumentID != "":
		return 2
	case t.Scope != "":
		return 1
	default:
		return 0
	}
}

// Overlaps reports whether two targets can cover a common document.
// A selector left empty matches everything at that level, so a tenant
// target overlaps every scope and document target of the same tenant.
func (t Target) Overlaps(other Target) bool {
	if t.TenantID != other.TenantID {
		return false
	}
	if t.Scope != "" && other.Scope != "" && t.Scope != other.Scope {
		return false
	}
	if t.DocumentID != "" && other.DocumentID != "" && t.DocumentID != other.DocumentID {
		return false
	}
	return true
}

// String renders the target for error messages and logs.
func (t Target) String() string {
	switch {
	case t.DocumentID != "":
		return fmt.Sprintf("tenant %s document %s", t.TenantID, t.DocumentID)
	case t.Scope != "":
		return fmt.Sprintf("tenant %s scope %s", t.TenantID, t.Scope)
	default:
		return fmt.Sprintf("tenant %s", t.TenantID)
	}
}

// Progress tracks how far a job has come. Counters only move forward.
type Progress struct {
	TotalDocs     int       `json:"total_docs"`
	ProcessedDocs int       `json:"processed_docs"`
	CurrentDoc    string    `json:"current_doc,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Percent is completion as 0..100. It never decreases because the
// counters never do.
func (p Progress) Percent() float64 {
	if p.TotalDocs <= 0 {
		return 0
	}
	return float64(p.ProcessedDocs) / float64(p.TotalDocs) * 100
}

// Job is one reindex run.
type Job struct {
	ID         string     `json:"id"`
	Target     Target     `json:"target"`
	Models     []string   `json:"models,omitempty"`
	Trigger    Trigger    `json:"trigger"`
	Actor      string     `json:"actor"`
	State      State      `json:"state"`
	Error      string     `json:"error,omitempty"`
	Progress   Progress   `json:"progress"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
