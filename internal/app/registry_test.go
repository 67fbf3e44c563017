package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/callvault/internal/domain"
)

func TestRegistryLastRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	first, second := newFakeConn("c1"), newFakeConn("c2")

	assert.Nil(t, reg.Register("alice", first))
	prior := reg.Register("alice", second)
	require.NotNil(t, prior)
	assert.Same(t, first, prior)

	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistrySameConnectionTwice(t *testing.T) {
	reg := NewRegistry()
	c := newFakeConn("c1")
	assert.Nil(t, reg.Register("alice", c))
	assert.Nil(t, reg.Register("alice", c))
}

func TestRegistryStaleUnregisterIsNoop(t *testing.T) {
	reg := NewRegistry()
	first, second := newFakeConn("c1"), newFakeConn("c2")
	reg.Register("alice", first)
	reg.Register("alice", second)

	assert.False(t, reg.Unregister("alice", first))
	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, reg.Unregister("alice", second))
	_, ok = reg.Lookup("alice")
	assert.False(t, ok)
}

func TestRegistryLookupOffline(t *testing.T) {
	reg := NewRegistry()
	c, ok := reg.Lookup("nobody")
	assert.False(t, ok)
	assert.Nil(t, c)
}

func TestRegistryAddressesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("carol", newFakeConn("3"))
	reg.Register("alice", newFakeConn("1"))
	reg.Register("bob", newFakeConn("2"))
	assert.Equal(t, []domain.Address{"alice", "bob", "carol"}, reg.Addresses())
}
