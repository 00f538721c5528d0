package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIdempotencyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hash := HashRequest("POST", "/v1/transactions", []byte(`{"amount":"1"}`))

	resp, err := store.LookupIdempotency(ctx, "caller", "key-1", hash)
	require.NoError(t, err)
	require.Nil(t, resp)

	require.NoError(t, store.SaveIdempotency(ctx, "caller", "key-1", hash, 201, []byte(`{"id":"ab"}`)))

	resp, err = store.LookupIdempotency(ctx, "caller", "key-1", hash)
	require.NoError(t, err)
	require.Equal(t, 201, resp.Status)
	require.JSONEq(t, `{"id":"ab"}`, string(resp.Body))

	other := HashRequest("POST", "/v1/transactions", []byte(`{"amount":"2"}`))
	_, err = store.LookupIdempotency(ctx, "caller", "key-1", other)
	require.ErrorIs(t, err, ErrIdempotencyMismatch)

	resp, err = store.LookupIdempotency(ctx, "someone-else", "key-1", other)
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestReserveIdempotencyClaimsKeyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hash := HashRequest("POST", "/v1/transactions", []byte(`{"amount":"1"}`))

	resp, err := store.ReserveIdempotency(ctx, "caller", "key-1", hash)
	require.NoError(t, err)
	require.Nil(t, resp)

	_, err = store.ReserveIdempotency(ctx, "caller", "key-1", hash)
	require.ErrorIs(t, err, ErrIdempotencyInFlight)
	other := HashRequest("POST", "/v1/transactions", []byte(`{"amount":"2"}`))
	_, err = store.ReserveIdempotency(ctx, "caller", "key-1", other)
	require.ErrorIs(t, err, ErrIdempotencyMismatch)

	require.NoError(t, store.SaveIdempotency(ctx, "caller", "key-1", hash, 201, []byte(`{"id":"ab"}`)))
	resp, err = store.ReserveIdempotency(ctx, "caller", "key-1", hash)
	require.NoError(t, err)
	require.Equal(t, 201, resp.Status)

	// Release never drops a completed response.
	require.NoError(t, store.ReleaseIdempotency(ctx, "caller", "key-1"))
	resp, err = store.LookupIdempotency(ctx, "caller", "key-1", hash)
	require.NoError(t, err)
	require.NotNil(t, resp)
}

func TestReleaseIdempotencyAllowsRetry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hash := HashRequest("POST", "/v1/transactions", nil)

	_, err := store.ReserveIdempotency(ctx, "caller", "key-2", hash)
	require.NoError(t, err)
	require.NoError(t, store.ReleaseIdempotency(ctx, "caller", "key-2"))

	resp, err := store.ReserveIdempotency(ctx, "caller", "key-2", hash)
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestAuditLogNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertAuditLog(ctx, Entry{RequestID: "r1", Method: "POST", Path: "/a", ResponseStatus: 201, Code: "ok"}))
	require.NoError(t, store.InsertAuditLog(ctx, Entry{RequestID: "r2", Method: "POST", Path: "/b", ResponseStatus: 403, Code: "not_yours"}))

	entries, err := store.RecentAuditLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "r2", entries[0].RequestID)
	require.Equal(t, "not_yours", entries[0].Code)
	require.False(t, entries[1].Timestamp.IsZero())
}

func TestHashRequestSeparatesFields(t *testing.T) {
	require.NotEqual(t, HashRequest("POST", "/ab", nil), HashRequest("POST", "/a", []byte("b")))
}
