package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/callvault/internal/domain"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "callvault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAvailable(t *testing.T) {
	s := openTest(t)
	assert.True(t, s.Available(context.Background()))

	require.NoError(t, s.Close())
	assert.False(t, s.Available(context.Background()))
}

func TestIdentities(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	created := time.UnixMilli(1700000000000).UTC()

	_, ok, err := s.Identities().Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Identities().Upsert(ctx, domain.Identity{Address: "alice", PubKey: "pk1", Name: "Alice", Plan: domain.PlanPro, CreatedAt: created}))
	require.NoError(t, s.Identities().Upsert(ctx, domain.Identity{Address: "alice", PubKey: "pk2", CreatedAt: created.Add(time.Hour)}))

	id, ok, err := s.Identities().Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Identity{Address: "alice", PubKey: "pk2", Name: "Alice", Plan: domain.PlanPro, CreatedAt: created}, id)
}

func TestContacts(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	at := time.UnixMilli(1700000000000).UTC()

	list, err := s.Contacts().List(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	require.NoError(t, s.Contacts().Put(ctx, domain.Contact{Owner: "alice", Address: "carol", Name: "Carol", AddedAt: at}))
	require.NoError(t, s.Contacts().Put(ctx, domain.Contact{Owner: "alice", Address: "bob", Name: "Bob", AlwaysAllowed: true, AddedAt: at}))
	require.NoError(t, s.Contacts().Put(ctx, domain.Contact{Owner: "bob", Address: "alice", AddedAt: at}))

	list, err = s.Contacts().List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.Address("bob"), list[0].Address)
	assert.True(t, list[0].AlwaysAllowed)
	assert.Equal(t, at, list[0].AddedAt)

	allowed, err := s.Contacts().AlwaysAllowed(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, allowed, 1)
	assert.Equal(t, domain.Address("bob"), allowed[0].Address)

	require.NoError(t, s.Contacts().Put(ctx, domain.Contact{Owner: "alice", Address: "bob", Name: "Bobby", AddedAt: at}))
	allowed, err = s.Contacts().AlwaysAllowed(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, allowed)
}

func TestUsage(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Usage().Record(ctx, "alice", domain.Outgoing, day.Add(-time.Hour)))
	require.NoError(t, s.Usage().Record(ctx, "alice", domain.Outgoing, day.Add(time.Hour)))
	require.NoError(t, s.Usage().Record(ctx, "alice", domain.Outgoing, day.Add(2*time.Hour)))
	require.NoError(t, s.Usage().Record(ctx, "alice", domain.Incoming, day.Add(time.Hour)))

	n, err := s.Usage().CountSince(ctx, "alice", domain.Outgoing, day)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Usage().CountSince(ctx, "alice", domain.Incoming, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Usage().CountSince(ctx, "bob", domain.Outgoing, day)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTokens(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Now()

	seen, err := s.Tokens().SeenNonce(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, seen)

	tok := domain.SessionToken{Nonce: "n1", Address: "alice", Plan: domain.PlanFree, IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}
	require.NoError(t, s.Tokens().Record(ctx, tok))
	require.NoError(t, s.Tokens().Record(ctx, tok))
	require.NoError(t, s.Tokens().Record(ctx, domain.SessionToken{Nonce: "n2", Address: "alice", Plan: domain.PlanFree, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))

	seen, err = s.Tokens().SeenNonce(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, seen)

	pruned, err := s.PruneTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	seen, err = s.Tokens().SeenNonce(ctx, "n2")
	require.NoError(t, err)
	assert.True(t, seen)
}
