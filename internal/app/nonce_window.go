package app

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dkeye/callvault/internal/domain"
)

// NonceWindow remembers the most recent nonces of each sender.
// Senders idle for longer than ttl are forgotten; the sender table itself
// is bounded by maxSenders.
type NonceWindow struct {
	mu      sync.Mutex
	size    int
	senders *expirable.LRU[domain.Address, *lru.Cache[string, struct{}]]
}

func NewNonceWindow(size, maxSenders int, ttl time.Duration) *NonceWindow {
	return &NonceWindow{
		size:    size,
		senders: expirable.NewLRU[domain.Address, *lru.Cache[string, struct{}]](maxSenders, nil, ttl),
	}
}

// Observe records nonce for sender and reports whether it was already in
// the window. Empty nonces are never duplicates.
func (w *NonceWindow) Observe(sender domain.Address, nonce string) (seen bool) {
	if nonce == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	recent, ok := w.senders.Get(sender)
	if !ok {
		// size is validated positive by config.
		recent, _ = lru.New[string, struct{}](w.size)
	}
	// Re-adding refreshes the sender's expiry.
	w.senders.Add(sender, recent)
	seen, _ = recent.ContainsOrAdd(nonce, struct{}{})
	return seen
}

// Forget drops nonce so a retransmission is delivered again.
func (w *NonceWindow) Forget(sender domain.Address, nonce string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if recent, ok := w.senders.Peek(sender); ok {
		recent.Remove(nonce)
	}
}
