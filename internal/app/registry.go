package app

import (
	"sort"
	"sync"

	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
	"github.com/dkeye/callvault/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Registry maps a peer address to its live signal connection.
// It only references connections; the gateway owns and closes them.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.Address]core.SignalConnection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.Address]core.SignalConnection)}
}

// Register maps addr to conn and returns the connection it superseded, if
// any. The caller is responsible for closing the returned connection.
func (r *Registry) Register(addr domain.Address, conn core.SignalConnection) core.SignalConnection {
	r.mu.Lock()
	prior, ok := r.conns[addr]
	r.conns[addr] = conn
	n := len(r.conns)
	r.mu.Unlock()

	metrics.Connections.Set(float64(n))
	if ok && prior != conn {
		log.Info().Str("module", "app.registry").Str("address", string(addr)).Str("conn", conn.ID()).Str("superseded", prior.ID()).Msg("registration replaced")
		return prior
	}
	log.Info().Str("module", "app.registry").Str("address", string(addr)).Str("conn", conn.ID()).Msg("registered")
	return nil
}

// Unregister removes addr only while it still maps to conn, so a stale
// unregister cannot evict a newer registration. It reports whether an
// entry was removed.
func (r *Registry) Unregister(addr domain.Address, conn core.SignalConnection) bool {
	r.mu.Lock()
	cur, ok := r.conns[addr]
	if !ok || cur != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, addr)
	n := len(r.conns)
	r.mu.Unlock()

	metrics.Connections.Set(float64(n))
	log.Info().Str("module", "app.registry").Str("address", string(addr)).Str("conn", conn.ID()).Msg("unregistered")
	return true
}

// Lookup returns the live connection for addr. A miss means the peer is
// offline, which is not an error.
func (r *Registry) Lookup(addr domain.Address) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[addr]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Addresses returns the registered addresses in sorted order.
func (r *Registry) Addresses() []domain.Address {
	r.mu.RLock()
	out := make([]domain.Address, 0, len(r.conns))
	for a := range r.conns {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
