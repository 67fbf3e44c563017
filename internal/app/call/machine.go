// Package call drives call sessions through their lifecycle:
//
//	none -> initiated -> ringing -> accepted -> active -> ended
//	initiated|ringing -> rejected | timed-out
//
// The Machine owns every session record. Mutations of one session are
// serialized by that session's lock; no operation ever holds two session
// locks at once.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
	"github.com/dkeye/callvault/internal/metrics"
)

var (
	ErrUnknownSession    = errors.New("unknown session")
	ErrSessionExists     = errors.New("session already exists")
	ErrNotParticipant    = errors.New("not a participant of this session")
	ErrCalleeOnly        = errors.New("only the callee may send this event")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSelfCall          = errors.New("caller and callee must differ")
	ErrClosed            = errors.New("call machine closed")
)

// Sender delivers frames to peers by address without blocking.
type Sender interface {
	SendTo(addr domain.Address, v any) domain.DeliveryOutcome
}

// Admission is the policy consulted before a call may ring.
type Admission interface {
	CanStartCall(ctx context.Context, addr domain.Address) domain.Decision
	CanReceiveCall(ctx context.Context, addr domain.Address) domain.Decision
	RecordCall(caller, callee domain.Address)
}

type Config struct {
	// RingTimeout bounds how long a session may stay initiated.
	RingTimeout time.Duration
	// AnswerTimeout bounds how long a session may ring; zero disables it.
	AnswerTimeout time.Duration
	// Retention keeps terminal sessions around for duplicate detection.
	Retention time.Duration
}

type Event string

const (
	EventRinging Event = core.TypeCallRinging
	EventAccept  Event = core.TypeCallAccept
	EventReject  Event = core.TypeCallReject
	EventEnd     Event = core.TypeCallEnd
)

// Init is a call:init request from an already registered caller.
type Init struct {
	SessionID domain.SessionID
	Caller    domain.Address
	Callee    domain.Address
	Type      domain.CallType
	Timestamp int64
	Nonce     string
}

// Control is a ringing/accept/reject/end event.
type Control struct {
	Event     Event
	SessionID domain.SessionID
	From      domain.Address
	Timestamp int64
	Nonce     string
}

// InitResult tells the caller of Init what happened to the attempt.
type InitResult string

const (
	InitRinging  InitResult = "ringing"
	InitDenied   InitResult = "denied"
	InitRejected InitResult = "rejected"
	InitTimedOut InitResult = "timed-out"
)

type session struct {
	mu    sync.Mutex
	rec   domain.CallSession
	timer *time.Timer
}

type Machine struct {
	cfg   Config
	send  Sender
	admit Admission
	now   func() time.Time

	mu       sync.Mutex
	sessions map[domain.SessionID]*session
	closed   bool
}

func NewMachine(cfg Config, send Sender, admit Admission) *Machine {
	return &Machine{
		cfg:      cfg,
		send:     send,
		admit:    admit,
		now:      time.Now,
		sessions: make(map[domain.SessionID]*session),
	}
}

func (m *Machine) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Machine) get(id domain.SessionID) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Init creates a session and rings the callee, subject to admission.
// A denied caller gets call:denied and no session is created.
func (m *Machine) Init(ctx context.Context, in Init) (InitResult, error) {
	if in.Caller == in.Callee {
		return "", ErrSelfCall
	}
	if m.isClosed() {
		return "", ErrClosed
	}
	if _, ok := m.get(in.SessionID); ok {
		return "", ErrSessionExists
	}

	if d := m.admit.CanStartCall(ctx, in.Caller); !d.Allowed {
		log.Info().Str("module", "call").Str("session", string(in.SessionID)).Str("caller", string(in.Caller)).Str("reason", d.Reason).Msg("caller denied")
		m.send.SendTo(in.Caller, core.CallNoticeFrame{Type: core.TypeCallDenied, SessionID: in.SessionID, Reason: d.Reason})
		return InitDenied, nil
	}

	now := m.now()
	s := &session{rec: domain.CallSession{
		ID:        in.SessionID,
		Caller:    in.Caller,
		Callee:    in.Callee,
		Type:      in.Type,
		State:     domain.CallNone,
		CreatedAt: now,
		UpdatedAt: now,
		LastNonce: in.Nonce,
	}}
	// Locked before it becomes visible so that no event can overtake Init.
	s.mu.Lock()
	defer s.mu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if _, ok := m.sessions[in.SessionID]; ok {
		m.mu.Unlock()
		return "", ErrSessionExists
	}
	m.sessions[in.SessionID] = s
	m.mu.Unlock()

	m.transition(s, domain.CallInitiated)

	if d := m.admit.CanReceiveCall(ctx, in.Callee); !d.Allowed {
		m.transition(s, domain.CallRejected)
		m.send.SendTo(in.Caller, core.CallNoticeFrame{Type: core.TypeCallDenied, SessionID: in.SessionID, Reason: d.Reason})
		m.retain(s)
		return InitRejected, nil
	}

	out := m.send.SendTo(in.Callee, core.CallIncomingFrame{
		Type:        core.TypeCallIncoming,
		FromAddress: string(in.Caller),
		SessionID:   in.SessionID,
		CallType:    in.Type,
		Timestamp:   in.Timestamp,
	})
	if out != domain.Delivered {
		reason := "peer offline"
		if out == domain.Dropped {
			reason = "peer unreachable"
		}
		m.transition(s, domain.CallTimedOut)
		m.send.SendTo(in.Caller, core.CallNoticeFrame{Type: core.TypeCallTimeout, SessionID: in.SessionID, Reason: reason})
		m.retain(s)
		return InitTimedOut, nil
	}

	m.arm(s, m.cfg.RingTimeout, domain.CallInitiated, "no response from callee")
	m.admit.RecordCall(in.Caller, in.Callee)
	return InitRinging, nil
}

// Control applies a call-control event. Events for terminal sessions and
// repeated events are silent no-ops.
func (m *Machine) Control(ev Control) error {
	s, ok := m.get(ev.SessionID)
	if !ok {
		return ErrUnknownSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	peer, ok := s.rec.Counterpart(ev.From)
	if !ok {
		return ErrNotParticipant
	}
	if s.rec.State.Terminal() {
		return nil
	}
	if ev.Nonce != "" && ev.Nonce == s.rec.LastNonce {
		return nil
	}

	switch ev.Event {
	case EventRinging:
		if ev.From != s.rec.Callee {
			return ErrCalleeOnly
		}
		if s.rec.State != domain.CallInitiated {
			return nil
		}
		m.transition(s, domain.CallRinging)
		m.arm(s, m.cfg.AnswerTimeout, domain.CallRinging, "no answer")

	case EventAccept:
		if ev.From != s.rec.Callee {
			return ErrCalleeOnly
		}
		if s.rec.State != domain.CallInitiated && s.rec.State != domain.CallRinging {
			return nil
		}
		m.disarm(s)
		m.transition(s, domain.CallAccepted)
		// Media negotiation is out of band, so accepted is immediately active.
		m.transition(s, domain.CallActive)

	case EventReject:
		if s.rec.State != domain.CallInitiated && s.rec.State != domain.CallRinging {
			return ErrInvalidTransition
		}
		m.disarm(s)
		m.transition(s, domain.CallRejected)
		m.retain(s)

	case EventEnd:
		m.disarm(s)
		m.transition(s, domain.CallEnded)
		m.retain(s)

	default:
		return ErrInvalidTransition
	}

	if ev.Nonce != "" {
		s.rec.LastNonce = ev.Nonce
	}
	m.send.SendTo(peer, core.CallControlFrame{
		Type:        string(ev.Event),
		ToAddress:   string(peer),
		FromAddress: string(ev.From),
		SessionID:   ev.SessionID,
		Timestamp:   ev.Timestamp,
	})
	return nil
}

// transition must be called with s.mu held.
func (m *Machine) transition(s *session, to domain.CallState) {
	from := s.rec.State
	s.rec.State = to
	s.rec.UpdatedAt = m.now()
	metrics.CallTransitions.WithLabelValues(string(to)).Inc()
	log.Info().
		Str("module", "call").
		Str("session", string(s.rec.ID)).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("transition")
}

// arm replaces the session timer; must be called with s.mu held.
func (m *Machine) arm(s *session, d time.Duration, expect domain.CallState, reason string) {
	m.disarm(s)
	if d <= 0 || m.isClosed() {
		return
	}
	s.timer = time.AfterFunc(d, func() { m.expire(s, expect, reason) })
}

func (m *Machine) disarm(s *session) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (m *Machine) expire(s *session, expect domain.CallState, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The timer may fire after a transition already stopped it.
	if s.rec.State != expect {
		return
	}
	s.timer = nil
	m.transition(s, domain.CallTimedOut)
	notice := core.CallNoticeFrame{Type: core.TypeCallTimeout, SessionID: s.rec.ID, Reason: reason}
	m.send.SendTo(s.rec.Caller, notice)
	m.send.SendTo(s.rec.Callee, notice)
	m.retain(s)
}

// retain schedules removal of a terminal session.
func (m *Machine) retain(s *session) {
	m.disarm(s)
	if m.isClosed() {
		return
	}
	id := s.rec.ID
	s.timer = time.AfterFunc(m.cfg.Retention, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.sessions[id] == s {
			delete(m.sessions, id)
			log.Debug().Str("module", "call").Str("session", string(id)).Msg("session discarded")
		}
	})
}

// Snapshot returns a copy of the session record.
func (m *Machine) Snapshot(id domain.SessionID) (domain.CallSession, bool) {
	s, ok := m.get(id)
	if !ok {
		return domain.CallSession{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, true
}

// ActiveCount counts sessions that have not reached a terminal state.
func (m *Machine) ActiveCount() int {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	n := 0
	for _, s := range all {
		s.mu.Lock()
		if !s.rec.State.Terminal() {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Close stops every pending timer. Sessions are kept for inspection.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.mu.Lock()
		m.disarm(s)
		s.mu.Unlock()
	}
}
