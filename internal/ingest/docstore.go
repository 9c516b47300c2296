package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// DocumentStore keeps the raw documents that were ingested, so a
// reindex can replay them through the pipeline after a model change.
type DocumentStore struct {
	db *sql.DB
}

const docSchema = `
CREATE TABLE IF NOT EXISTS documents (
	tenant_id   TEXT NOT NULL,
	document_id TEXT NOT NULL,
	scope       TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL,
	metadata    TEXT,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, document_id)
);
CREATE INDEX IF NOT EXISTS idx_documents_scope ON documents(tenant_id, scope);
`

// NewDocumentStore creates the table if needed and returns a store.
func NewDocumentStore(db *sql.DB) (*DocumentStore, error) {
	if _, err := db.Exec(docSchema); err != nil {
		return nil, mverr.StorageError("initialize document schema", err)
	}
	return &DocumentStore{db: db}, nil
}

// Save upserts a document.
func (s *DocumentStore) Save(ctx context.Context, doc Document) error {
	if doc.ID == "" || doc.TenantID == "" {
		return mverr.ValidationError("document id and tenant id are required", nil)
	}

	var meta []byte
	if len(doc.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(doc.Metadata)
		if err != nil {
			return mverr.InternalError("encode document metadata", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (tenant_id, document_id, scope, text, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, strftime('%s','now'))
		ON CONFLICT(tenant_id, document_id) DO UPDATE SET
			scope = excluded.scope,
			text = excluded.text,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		doc.TenantID, doc.ID, doc.Scope, doc.Text, meta)
	if err != nil {
		return mverr.StorageError(fmt.Sprintf("save document %s", doc.ID), err)
	}
	return nil
}

// Get returns one document.
func (s *DocumentStore) Get(ctx context.Context, tenantID, docID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, document_id, scope, text, metadata
		FROM documents WHERE tenant_id = ? AND document_id = ?`,
		tenantID, docID)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mverr.ValidationError(fmt.Sprintf("unknown document: %s", docID), nil)
	}
	if err != nil {
		return nil, mverr.StorageError("load document", err)
	}
	return doc, nil
}

// List returns documents matching the selectors. Empty scope or docID
// selects everything at that level. Results are ordered by document ID
// so reindex runs are deterministic.
func (s *DocumentStore) List(ctx context.Context, tenantID, scope, docID string) ([]Document, error) {
	if tenantID == "" {
		return nil, mverr.ValidationError("tenant id is required", nil)
	}

	query := `SELECT tenant_id, document_id, scope, text, metadata FROM documents WHERE tenant_id = ?`
	args := []any{tenantID}
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, scope)
	}
	if docID != "" {
		query += ` AND document_id = ?`
		args = append(args, docID)
	}
	query += ` ORDER BY document_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mverr.StorageError("list documents", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, mverr.StorageError("scan document", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, mverr.StorageError("list documents", err)
	}
	return docs, nil
}

// Delete removes a document record. Missing documents are not an error.
func (s *DocumentStore) Delete(ctx context.Context, tenantID, docID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE tenant_id = ? AND document_id = ?`,
		tenantID, docID)
	if err != nil {
		return mverr.StorageError(fmt.Sprintf("delete document %s", docID), err)
	}
	return nil
}

type docScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row docScanner) (*Document, error) {
	var doc Document
	var meta sql.NullString
	if err := row.Scan(&doc.TenantID, &doc.ID, &doc.Scope, &doc.Text, &meta); err != nil {
		return nil, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode document metadata: %w", err)
		}
	}
	return &doc, nil
}
