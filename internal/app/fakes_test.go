package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) decoded() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// memStore is an in-memory core.Store; down simulates an outage.
type memStore struct {
	mu         sync.Mutex
	down       bool
	identities map[domain.Address]domain.Identity
	usage      []usageEvent
	tokens     map[string]domain.SessionToken
	failLookup bool
}

func newMemStore() *memStore {
	return &memStore{
		identities: make(map[domain.Address]domain.Identity),
		tokens:     make(map[string]domain.SessionToken),
	}
}

func (s *memStore) setDown(v bool) {
	s.mu.Lock()
	s.down = v
	s.mu.Unlock()
}

func (s *memStore) usageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.usage)
}

func (s *memStore) Available(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.down
}

func (s *memStore) Identities() core.IdentityRepository { return memIdentities{s} }
func (s *memStore) Contacts() core.ContactRepository    { return core.NoStore{}.Contacts() }
func (s *memStore) Usage() core.UsageRepository         { return memUsage{s} }
func (s *memStore) Tokens() core.TokenRepository        { return memTokens{s} }
func (s *memStore) Close() error                        { return nil }

type memIdentities struct{ s *memStore }

func (r memIdentities) Upsert(_ context.Context, id domain.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.identities[id.Address] = id
	return nil
}

func (r memIdentities) Get(_ context.Context, addr domain.Address) (domain.Identity, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failLookup {
		return domain.Identity{}, false, core.ErrStoreUnavailable
	}
	id, ok := r.s.identities[addr]
	return id, ok, nil
}

type memUsage struct{ s *memStore }

func (r memUsage) Record(_ context.Context, addr domain.Address, dir domain.CallDirection, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.usage = append(r.s.usage, usageEvent{addr: addr, dir: dir, at: at})
	return nil
}

func (r memUsage) CountSince(_ context.Context, addr domain.Address, dir domain.CallDirection, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, ev := range r.s.usage {
		if ev.addr == addr && ev.dir == dir && !ev.at.Before(since) {
			n++
		}
	}
	return n, nil
}

type memTokens struct{ s *memStore }

func (r memTokens) Record(_ context.Context, t domain.SessionToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.tokens[t.Nonce] = t
	return nil
}

func (r memTokens) SeenNonce(_ context.Context, nonce string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.tokens[nonce]
	return ok, nil
}

type staticICE struct{}

func (staticICE) ICEServers(_ domain.Address, allowTurn bool, _ time.Time) []webrtc.ICEServer {
	out := []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	if allowTurn {
		out = append(out, webrtc.ICEServer{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"})
	}
	return out
}
