package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/callvault/internal/config"
	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
	"github.com/dkeye/callvault/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	ReasonDemoMode = "demo mode"

	storeTimeout   = 500 * time.Millisecond
	usageQueueSize = 256
)

type usageEvent struct {
	addr domain.Address
	dir  domain.CallDirection
	at   time.Time
}

// FreeTierShield gates call start and receipt on plan quotas.
// Without a reachable store every check is allowed (demo mode).
type FreeTierShield struct {
	store core.Store
	free  domain.Plan
	now   func() time.Time
	queue chan usageEvent
}

func NewFreeTierShield(store core.Store, tier config.FreeTierConfig) *FreeTierShield {
	if store == nil {
		store = core.NoStore{}
	}
	return &FreeTierShield{
		store: store,
		free: domain.Plan{
			Name:           domain.PlanFree,
			CallsPerDay:    tier.CallsPerDay,
			ReceivesPerDay: tier.ReceivesPerDay,
			AllowTurn:      tier.AllowTurn,
			AllowVideo:     tier.AllowVideo,
		},
		now:   time.Now,
		queue: make(chan usageEvent, usageQueueSize),
	}
}

// Start drains recorded usage into the store until ctx is done.
func (s *FreeTierShield) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.queue:
				s.record(ctx, ev)
			}
		}
	}()
}

func (s *FreeTierShield) CanStartCall(ctx context.Context, addr domain.Address) domain.Decision {
	d := s.check(ctx, addr, domain.Outgoing)
	metrics.Admission.WithLabelValues("start", result(d)).Inc()
	return d
}

func (s *FreeTierShield) CanReceiveCall(ctx context.Context, addr domain.Address) domain.Decision {
	d := s.check(ctx, addr, domain.Incoming)
	metrics.Admission.WithLabelValues("receive", result(d)).Inc()
	return d
}

func (s *FreeTierShield) check(ctx context.Context, addr domain.Address, dir domain.CallDirection) domain.Decision {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if !s.store.Available(ctx) {
		return domain.Allow(ReasonDemoMode)
	}

	plan, err := s.lookupPlan(ctx, addr)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.admission").Str("address", string(addr)).Msg("plan lookup failed, allowing")
		return domain.Allow(ReasonDemoMode)
	}
	limit := plan.CallsPerDay
	if dir == domain.Incoming {
		limit = plan.ReceivesPerDay
	}
	if limit <= 0 {
		return domain.Allow("")
	}
	n, err := s.store.Usage().CountSince(ctx, addr, dir, startOfDay(s.now()))
	if err != nil {
		log.Warn().Err(err).Str("module", "app.admission").Str("address", string(addr)).Msg("usage lookup failed, allowing")
		return domain.Allow(ReasonDemoMode)
	}
	if n >= limit {
		return domain.Deny(fmt.Sprintf("%s plan limit of %d %s calls per day reached", plan.Name, limit, dir))
	}
	return domain.Allow("")
}

// PlanFor returns the plan attributes for addr, or the demo plan when the
// store cannot answer.
func (s *FreeTierShield) PlanFor(ctx context.Context, addr domain.Address) domain.Plan {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if !s.store.Available(ctx) {
		return domain.DemoPlan()
	}
	plan, err := s.lookupPlan(ctx, addr)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.admission").Str("address", string(addr)).Msg("plan lookup failed, using demo plan")
		return domain.DemoPlan()
	}
	return plan
}

func (s *FreeTierShield) lookupPlan(ctx context.Context, addr domain.Address) (domain.Plan, error) {
	id, ok, err := s.store.Identities().Get(ctx, addr)
	if err != nil {
		return domain.Plan{}, err
	}
	if ok && id.Plan == domain.PlanPro {
		return domain.ProPlan(), nil
	}
	return s.free, nil
}

// RecordCall queues usage for both parties. It never blocks; a full queue
// drops the event.
func (s *FreeTierShield) RecordCall(caller, callee domain.Address) {
	at := s.now()
	for _, ev := range []usageEvent{
		{addr: caller, dir: domain.Outgoing, at: at},
		{addr: callee, dir: domain.Incoming, at: at},
	} {
		select {
		case s.queue <- ev:
		default:
			log.Warn().Str("module", "app.admission").Str("address", string(ev.addr)).Msg("usage queue full, event dropped")
		}
	}
}

func (s *FreeTierShield) record(ctx context.Context, ev usageEvent) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if !s.store.Available(ctx) {
		return
	}
	if err := s.store.Usage().Record(ctx, ev.addr, ev.dir, ev.at); err != nil {
		log.Warn().Err(err).Str("module", "app.admission").Str("address", string(ev.addr)).Msg("usage record failed")
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func result(d domain.Decision) string {
	if d.Allowed {
		return "allowed"
	}
	return "denied"
}
