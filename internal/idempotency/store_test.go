package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
	"github.com/Aman-CERP/multivec/internal/store"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	db, err := store.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewStore(db, opts...)
	require.NoError(t, err)
	return s
}

func TestRequestHash_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	a, err := RequestHash("POST", "/v1/ingest", []byte(`{"doc_id":"d1","text":"hello"}`))
	require.NoError(t, err)
	b, err := RequestHash("POST", "/v1/ingest", []byte(` { "text" : "hello", "doc_id" : "d1" } `))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRequestHash_SensitiveToContent(t *testing.T) {
	base, err := RequestHash("POST", "/v1/ingest", []byte(`{"doc_id":"d1"}`))
	require.NoError(t, err)

	other, err := RequestHash("POST", "/v1/ingest", []byte(`{"doc_id":"d2"}`))
	require.NoError(t, err)
	assert.NotEqual(t, base, other)

	other, err = RequestHash("PUT", "/v1/ingest", []byte(`{"doc_id":"d1"}`))
	require.NoError(t, err)
	assert.NotEqual(t, base, other)

	other, err = RequestHash("POST", "/v1/other", []byte(`{"doc_id":"d1"}`))
	require.NoError(t, err)
	assert.NotEqual(t, base, other)
}

func TestRequestHash_InvalidBody(t *testing.T) {
	_, err := RequestHash("POST", "/v1/ingest", []byte(`{not json`))
	require.Error(t, err)
}

func TestStore_FirstClaimWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, d.Outcome)

	// Same request again before completion is in flight.
	d, err = s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInFlight, d.Outcome)
}

func TestStore_CachedResponseReplayed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	require.Equal(t, OutcomeNew, d.Outcome)
	require.NoError(t, s.Complete(ctx, "t1", "u1", "k1", "hash-a", []byte(`{"job_id":"j1"}`)))

	d, err = s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCached, d.Outcome)
	assert.JSONEq(t, `{"job_id":"j1"}`, string(d.Response))
}

func TestStore_DifferentHashIsAMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	require.Equal(t, OutcomeNew, d.Outcome)
	require.NoError(t, s.Complete(ctx, "t1", "u1", "k1", "hash-a", []byte(`ok`)))

	// Reusing the key with a different request never replays the old
	// response; it is an independent slot.
	d, err = s.Begin(ctx, "t1", "u1", "k1", "hash-b")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, d.Outcome)

	// The original entry is untouched.
	d, err = s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCached, d.Outcome)
}

func TestStore_TenantsAndUsersIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, d.Outcome)

	// Same key under another tenant is an independent slot.
	d, err = s.Begin(ctx, "t2", "u1", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, d.Outcome)

	// Same key under another user is an independent slot.
	d, err = s.Begin(ctx, "t1", "u2", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, d.Outcome)
}

func TestStore_ExpiredEntryReleasesSlot(t *testing.T) {
	current := time.Now()
	s := newTestStore(t, WithTTL(time.Minute), withClock(func() time.Time { return current }))
	ctx := context.Background()

	d, err := s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	require.Equal(t, OutcomeNew, d.Outcome)
	require.NoError(t, s.Complete(ctx, "t1", "u1", "k1", "hash-a", []byte(`ok`)))

	// Within the TTL the cached response is served.
	d, err = s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCached, d.Outcome)

	// Past the TTL the same request is a fresh claim.
	current = current.Add(2 * time.Minute)
	d, err = s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, d.Outcome)
}

func TestStore_AbandonAllowsRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	require.Equal(t, OutcomeNew, d.Outcome)

	require.NoError(t, s.Abandon(ctx, "t1", "u1", "k1", "hash-a"))

	d, err = s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, d.Outcome)
}

func TestStore_AbandonKeepsCompletedEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "t1", "u1", "k1", "hash-a", []byte(`ok`)))
	require.NoError(t, s.Abandon(ctx, "t1", "u1", "k1", "hash-a"))

	d, err := s.Begin(ctx, "t1", "u1", "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCached, d.Outcome)
}

func TestStore_CleanupExpired(t *testing.T) {
	current := time.Now()
	s := newTestStore(t, WithTTL(time.Minute), withClock(func() time.Time { return current }))
	ctx := context.Background()

	for _, key := range []string{"k1", "k2"} {
		_, err := s.Begin(ctx, "t1", "u1", key, "hash-a")
		require.NoError(t, err)
	}
	_, err := s.Begin(ctx, "t2", "u1", "k3", "hash-a")
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)

	n, err := s.CleanupExpired(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.CleanupExpired(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_EmptyKeyRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Begin(context.Background(), "t1", "u1", "", "hash-a")
	require.Error(t, err)
	assert.Equal(t, mverr.ErrCodeInvalidInput, mverr.GetCode(err))
}
