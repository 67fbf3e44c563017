package app

import (
	"github.com/dkeye/callvault/internal/config"
	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a peer whose outbound queue is full.
type Policy interface {
	OnBackPressure(addr domain.Address, conn core.SignalConnection) BackpressureAction
}

type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(domain.Address, core.SignalConnection) BackpressureAction {
	return p.Action
}

// PolicyFromConfig maps signaling.slow_peer_action onto a Policy.
func PolicyFromConfig(action string) Policy {
	if action == config.SlowPeerKick {
		return SimplePolicy{Action: KickMember}
	}
	return SimplePolicy{Action: DropFrame}
}
