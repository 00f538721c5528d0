package audit

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"

	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"
)

// ErrIdempotencyMismatch marks an idempotency key replayed with a request
// that hashes differently from the one it was first used for.
var ErrIdempotencyMismatch = errors.New("audit: idempotency key reused for a different request")

// ErrIdempotencyInFlight marks a key whose first request has not produced a
// response yet.
var ErrIdempotencyInFlight = errors.New("audit: idempotency key in use by a request still in flight")

// pendingStatus is the response status of a reserved key that has no cached
// response yet.
const pendingStatus = 0

// Store persists idempotency keys and the request audit trail.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            caller TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY(caller, idempotency_key)
        );`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            request_id TEXT,
            caller TEXT,
            method TEXT NOT NULL,
            path TEXT NOT NULL,
            response_status INTEGER,
            code TEXT
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoredResponse represents a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

// HashRequest returns the fingerprint used to detect key reuse with a
// different body. Each field is length-prefixed so boundaries cannot shift.
func HashRequest(method, path string, body []byte) string {
	h := blake3.New(32, nil)
	for _, field := range [][]byte{[]byte(method), []byte(path), body} {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(field)))
		_, _ = h.Write(length[:])
		_, _ = h.Write(field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ReserveIdempotency claims (caller, key) for the request identified by
// requestHash. A nil response with a nil error means the caller now owns the
// key and must either SaveIdempotency or ReleaseIdempotency it. Otherwise the
// result is the same as LookupIdempotency on the existing row.
func (s *Store) ReserveIdempotency(ctx context.Context, caller, key, requestHash string) (*StoredResponse, error) {
	const stmt = `INSERT INTO idempotency_keys(caller, idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(caller, idempotency_key) DO NOTHING`
	res, err := s.db.ExecContext(ctx, stmt, caller, key, requestHash, pendingStatus, []byte{}, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if claimed == 1 {
		return nil, nil
	}
	resp, err := s.LookupIdempotency(ctx, caller, key, requestHash)
	if err == nil && resp == nil {
		// Released between the insert and the lookup.
		return nil, ErrIdempotencyInFlight
	}
	return resp, err
}

// ReleaseIdempotency drops a reservation that never produced a response so
// the key can be retried.
func (s *Store) ReleaseIdempotency(ctx context.Context, caller, key string) error {
	const stmt = `DELETE FROM idempotency_keys WHERE caller = ? AND idempotency_key = ? AND response_status = ?`
	_, err := s.db.ExecContext(ctx, stmt, caller, key, pendingStatus)
	return err
}

// LookupIdempotency returns the cached response for (caller, key), nil when
// the key is unused, ErrIdempotencyMismatch when the stored request hash
// differs, or ErrIdempotencyInFlight while the key is reserved.
func (s *Store) LookupIdempotency(ctx context.Context, caller, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE caller = ? AND idempotency_key = ?`
	row := s.db.QueryRowContext(ctx, query, caller, key)
	var status int
	var body []byte
	var storedHash string
	err := row.Scan(&status, &body, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	if status == pendingStatus {
		return nil, ErrIdempotencyInFlight
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

// SaveIdempotency caches the response produced for (caller, key).
func (s *Store) SaveIdempotency(ctx context.Context, caller, key, requestHash string, status int, body []byte) error {
	const stmt = `INSERT OR REPLACE INTO idempotency_keys(caller, idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, caller, key, requestHash, status, body, time.Now().UTC())
	return err
}

// Entry is one row of the request audit trail.
type Entry struct {
	RequestID      string
	Caller         string
	Method         string
	Path           string
	ResponseStatus int
	Code           string
	Timestamp      time.Time
}

// InsertAuditLog appends entry to the audit trail.
func (s *Store) InsertAuditLog(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	const stmt = `INSERT INTO audit_log(request_id, caller, method, path, response_status, code, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, entry.RequestID, entry.Caller, entry.Method, entry.Path, entry.ResponseStatus, entry.Code, entry.Timestamp)
	return err
}

// RecentAuditLog returns up to limit entries, newest first.
func (s *Store) RecentAuditLog(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT request_id, caller, method, path, response_status, code, occurred_at FROM audit_log ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.RequestID, &entry.Caller, &entry.Method, &entry.Path, &entry.ResponseStatus, &entry.Code, &entry.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
