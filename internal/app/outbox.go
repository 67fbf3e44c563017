package app

import (
	"errors"

	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
	"github.com/rs/zerolog/log"
)

// Outbox delivers frames to registered peers without ever blocking.
// Delivered means enqueued, not acknowledged by the remote peer.
type Outbox struct {
	Registry *Registry
	Policy   Policy
}

func NewOutbox(reg *Registry, policy Policy) *Outbox {
	return &Outbox{Registry: reg, Policy: policy}
}

// SendTo encodes v for the connection currently registered under addr.
func (o *Outbox) SendTo(addr domain.Address, v any) domain.DeliveryOutcome {
	conn, ok := o.Registry.Lookup(addr)
	if !ok {
		return domain.Offline
	}
	err := core.SendJSON(conn, v)
	switch {
	case err == nil:
		return domain.Delivered
	case errors.Is(err, core.ErrBackpressure):
		o.onBackpressure(addr, conn)
		return domain.Dropped
	case errors.Is(err, core.ErrConnClosed):
		return domain.Offline
	default:
		log.Error().Err(err).Str("module", "app.outbox").Str("address", string(addr)).Msg("send failed")
		return domain.Dropped
	}
}

func (o *Outbox) onBackpressure(addr domain.Address, conn core.SignalConnection) {
	action := DropFrame
	if o.Policy != nil {
		action = o.Policy.OnBackPressure(addr, conn)
	}
	switch action {
	case KickMember:
		log.Warn().Str("module", "app.outbox").Str("address", string(addr)).Str("conn", conn.ID()).Msg("slow peer kicked")
		o.Registry.Unregister(addr, conn)
		conn.Close()
	case DropFrame, NoAction:
		log.Warn().Str("module", "app.outbox").Str("address", string(addr)).Msg("slow peer, frame dropped")
	}
}
