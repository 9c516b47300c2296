package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/multivec/internal/store"
)

func newDocStore(t *testing.T) *DocumentStore {
	t.Helper()
	db, err := store.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ds, err := NewDocumentStore(db)
	require.NoError(t, err)
	return ds
}

func TestDocumentStoreSaveAndGet(t *testing.T) {
	ds := newDocStore(t)
	ctx := context.Background()

	doc := Document{
		ID:       "d1",
		TenantID: "t1",
		Scope:    "contracts",
		Text:     "Net 30 payment terms.",
		Metadata: map[string]string{"source": "upload"},
	}
	require.NoError(t, ds.Save(ctx, doc))

	got, err := ds.Get(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.Equal(t, doc.Text, got.Text)
	assert.Equal(t, doc.Scope, got.Scope)
	assert.Equal(t, "upload", got.Metadata["source"])
}

func TestDocumentStoreSaveReplaces(t *testing.T) {
	ds := newDocStore(t)
	ctx := context.Background()

	require.NoError(t, ds.Save(ctx, Document{ID: "d1", TenantID: "t1", Text: "v1"}))
	require.NoError(t, ds.Save(ctx, Document{ID: "d1", TenantID: "t1", Scope: "s", Text: "v2"}))

	got, err := ds.Get(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Text)
	assert.Equal(t, "s", got.Scope)
}

func TestDocumentStoreListSelectors(t *testing.T) {
	ds := newDocStore(t)
	ctx := context.Background()

	require.NoError(t, ds.Save(ctx, Document{ID: "d1", TenantID: "t1", Scope: "contracts", Text: "a"}))
	require.NoError(t, ds.Save(ctx, Document{ID: "d2", TenantID: "t1", Scope: "contracts", Text: "b"}))
	require.NoError(t, ds.Save(ctx, Document{ID: "d3", TenantID: "t1", Scope: "manuals", Text: "c"}))
	require.NoError(t, ds.Save(ctx, Document{ID: "d4", TenantID: "t2", Scope: "contracts", Text: "d"}))

	all, err := ds.List(ctx, "t1", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	contracts, err := ds.List(ctx, "t1", "contracts", "")
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.Equal(t, "d1", contracts[0].ID)
	assert.Equal(t, "d2", contracts[1].ID)

	one, err := ds.List(ctx, "t1", "", "d3")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "manuals", one[0].Scope)

	_, err = ds.List(ctx, "", "", "")
	require.Error(t, err)
}

func TestDocumentStoreGetUnknown(t *testing.T) {
	ds := newDocStore(t)

	_, err := ds.Get(context.Background(), "t1", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown document")
}

func TestDocumentStoreDelete(t *testing.T) {
	ds := newDocStore(t)
	ctx := context.Background()

	require.NoError(t, ds.Save(ctx, Document{ID: "d1", TenantID: "t1", Text: "a"}))
	require.NoError(t, ds.Delete(ctx, "t1", "d1"))

	_, err := ds.Get(ctx, "t1", "d1")
	require.Error(t, err)

	// Deleting again is fine.
	require.NoError(t, ds.Delete(ctx, "t1", "d1"))
}
