package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// DefaultTTL is how long a completed entry serves cached responses.
const DefaultTTL = 15 * time.Minute

// Outcome classifies what Begin decided for a request.
type Outcome int

const (
	// OutcomeNew means this request won the slot; the caller must
	// execute the operation and call Complete.
	OutcomeNew Outcome = iota

	// OutcomeCached means an identical request already completed;
	// Response carries its stored reply.
	OutcomeCached

	// OutcomeInFlight means an identical request holds the slot but
	// has not completed yet.
	OutcomeInFlight
)

// Decision is the result of Begin.
type Decision struct {
	Outcome  Outcome
	Response []byte
}

// Store persists idempotency entries in SQLite. Entries are unique per
// (tenant, user, key, request hash): reusing a key with a different
// request is a plain miss, so it executes rather than masking the
// earlier operation. Writes race through a conditional insert, so
// exactly one caller per tuple wins.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// withClock is a test hook.
func withClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

const schema = `
CREATE TABLE IF NOT EXISTS idempotency (
	tenant_id  TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	req_hash   TEXT NOT NULL,
	response   BLOB,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, user_id, key, req_hash)
);
CREATE INDEX IF NOT EXISTS idx_idempotency_expiry ON idempotency(expires_at);
`

// NewStore creates the table if needed and returns a store.
func NewStore(db *sql.DB, opts ...StoreOption) (*Store, error) {
	s := &Store{db: db, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, mverr.StorageError("initialize idempotency schema", err)
	}
	return s, nil
}

// Begin claims the slot for (tenantID, userID, key, reqHash). The first
// caller gets OutcomeNew; later identical requests get the cached
// response once it lands, or an in-flight signal while the winner is
// still executing.
func (s *Store) Begin(ctx context.Context, tenantID, userID, key, reqHash string) (*Decision, error) {
	if key == "" {
		return nil, mverr.ValidationError("idempotency key must not be empty", nil)
	}
	now := s.now()

	// Expired entries lose the slot before anyone claims it.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency
		 WHERE tenant_id = ? AND user_id = ? AND key = ? AND req_hash = ? AND expires_at <= ?`,
		tenantID, userID, key, reqHash, now.Unix()); err != nil {
		return nil, mverr.StorageError("expire idempotency entry", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency (tenant_id, user_id, key, req_hash, response, created_at, expires_at)
		 VALUES (?, ?, ?, ?, NULL, ?, ?)`,
		tenantID, userID, key, reqHash, now.Unix(), now.Add(s.ttl).Unix())
	if err != nil {
		return nil, mverr.StorageError("claim idempotency slot", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return &Decision{Outcome: OutcomeNew}, nil
	}

	// Lost the race or the slot already existed: read the winner.
	var response []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT response FROM idempotency
		 WHERE tenant_id = ? AND user_id = ? AND key = ? AND req_hash = ?`,
		tenantID, userID, key, reqHash).Scan(&response)
	if errors.Is(err, sql.ErrNoRows) {
		// The winner expired between our delete and read; claim again.
		return s.Begin(ctx, tenantID, userID, key, reqHash)
	}
	if err != nil {
		return nil, mverr.StorageError("read idempotency entry", err)
	}

	if response == nil {
		return &Decision{Outcome: OutcomeInFlight}, nil
	}
	return &Decision{Outcome: OutcomeCached, Response: response}, nil
}

// Complete stores the response for a slot previously claimed with
// OutcomeNew.
func (s *Store) Complete(ctx context.Context, tenantID, userID, key, reqHash string, response []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE idempotency SET response = ?
		 WHERE tenant_id = ? AND user_id = ? AND key = ? AND req_hash = ?`,
		response, tenantID, userID, key, reqHash)
	if err != nil {
		return mverr.StorageError("store idempotency response", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mverr.StorageError(fmt.Sprintf("idempotency entry %q vanished before completion", key), nil)
	}
	return nil
}

// Abandon releases a claimed slot after the operation failed, so a
// retry of the same request can execute again.
func (s *Store) Abandon(ctx context.Context, tenantID, userID, key, reqHash string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency
		 WHERE tenant_id = ? AND user_id = ? AND key = ? AND req_hash = ? AND response IS NULL`,
		tenantID, userID, key, reqHash); err != nil {
		return mverr.StorageError("abandon idempotency entry", err)
	}
	return nil
}

// CleanupExpired deletes expired entries, optionally scoped to one
// tenant, and returns how many were removed.
func (s *Store) CleanupExpired(ctx context.Context, tenantID string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if tenantID == "" {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM idempotency WHERE expires_at <= ?`, s.now().Unix())
	} else {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM idempotency WHERE tenant_id = ? AND expires_at <= ?`, tenantID, s.now().Unix())
	}
	if err != nil {
		return 0, mverr.StorageError("cleanup idempotency entries", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
