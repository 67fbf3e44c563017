package app

import (
	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
	"github.com/dkeye/callvault/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Router delivers msg:send envelopes between registered peers.
// It is not a queue: offline recipients are reported, never retried.
type Router struct {
	Registry *Registry
	Outbox   *Outbox
	Nonces   *NonceWindow
}

func NewRouter(reg *Registry, outbox *Outbox, nonces *NonceWindow) *Router {
	return &Router{Registry: reg, Outbox: outbox, Nonces: nonces}
}

func (r *Router) Route(env domain.Envelope) domain.DeliveryOutcome {
	out := r.route(env)
	metrics.Routes.WithLabelValues(string(out)).Inc()
	log.Debug().
		Str("module", "app.router").
		Str("from", string(env.From)).
		Str("to", string(env.To)).
		Str("nonce", env.Nonce).
		Str("outcome", string(out)).
		Msg("route")
	return out
}

func (r *Router) route(env domain.Envelope) domain.DeliveryOutcome {
	if _, ok := r.Registry.Lookup(env.To); !ok {
		return domain.Offline
	}
	if r.Nonces != nil && r.Nonces.Observe(env.From, env.Nonce) {
		return domain.Duplicate
	}
	out := r.Outbox.SendTo(env.To, core.MsgIncomingFrame{
		Type:        core.TypeMsgIncoming,
		FromAddress: string(env.From),
		Content:     env.Content,
		Timestamp:   env.Timestamp,
		Nonce:       env.Nonce,
	})
	if out != domain.Delivered && r.Nonces != nil {
		r.Nonces.Forget(env.From, env.Nonce)
	}
	return out
}
