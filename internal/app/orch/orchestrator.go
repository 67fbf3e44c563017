package orch

import (
	"context"

	"github.com/dkeye/callvault/internal/app"
	"github.com/dkeye/callvault/internal/app/call"
	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	CodeSuperseded = "superseded"
	msgSuperseded  = "Connection replaced by a newer registration"
)

// Orchestrator is the single entry point the adapters use to reach the
// signaling core.
type Orchestrator struct {
	Registry *app.Registry
	Outbox   *app.Outbox
	Router   *app.Router
	Calls    *call.Machine
	Shield   *app.FreeTierShield
	Tokens   *app.TokenService
	Store    core.Store
}

// Deps bundles what New needs beyond the components it builds itself.
type Deps struct {
	Policy    app.Policy
	Nonces    *app.NonceWindow
	Shield    *app.FreeTierShield
	Tokens    *app.TokenService
	Store     core.Store
	CallTimes call.Config
}

func New(d Deps) *Orchestrator {
	if d.Store == nil {
		d.Store = core.NoStore{}
	}
	reg := app.NewRegistry()
	outbox := app.NewOutbox(reg, d.Policy)
	return &Orchestrator{
		Registry: reg,
		Outbox:   outbox,
		Router:   app.NewRouter(reg, outbox, d.Nonces),
		Calls:    call.NewMachine(d.CallTimes, outbox, d.Shield),
		Shield:   d.Shield,
		Tokens:   d.Tokens,
		Store:    d.Store,
	}
}

// Register binds conn to addr. prev is the address conn was registered
// under before, if any; it is released when it differs from addr. A
// connection superseded by this registration is told so and closed.
func (o *Orchestrator) Register(prev, addr domain.Address, conn core.SignalConnection) {
	if prev != "" && prev != addr {
		o.Registry.Unregister(prev, conn)
	}
	old := o.Registry.Register(addr, conn)
	if old == nil {
		return
	}
	_ = core.SendJSON(old, core.ErrorFrame{Type: core.TypeError, Code: CodeSuperseded, Message: msgSuperseded})
	old.Close()
}

// OnDisconnect releases addr if conn still owns it. Pending call sessions
// are left to their timers.
func (o *Orchestrator) OnDisconnect(addr domain.Address, conn core.SignalConnection) {
	if addr == "" {
		return
	}
	if o.Registry.Unregister(addr, conn) {
		log.Info().Str("module", "orch").Str("address", string(addr)).Str("conn", conn.ID()).Msg("peer disconnected")
	}
}

func (o *Orchestrator) Route(env domain.Envelope) domain.DeliveryOutcome {
	return o.Router.Route(env)
}

func (o *Orchestrator) InitCall(ctx context.Context, in call.Init) (call.InitResult, error) {
	return o.Calls.Init(ctx, in)
}

func (o *Orchestrator) ControlCall(ev call.Control) error {
	return o.Calls.Control(ev)
}

// Stats is a point-in-time view used by diagnostics.
type Stats struct {
	Connections int `json:"connections"`
	ActiveCalls int `json:"activeCalls"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{Connections: o.Registry.Count(), ActiveCalls: o.Calls.ActiveCount()}
}

// Close stops call timers. Connections belong to the gateway.
func (o *Orchestrator) Close() {
	o.Calls.Close()
}
