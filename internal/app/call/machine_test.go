package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
)

type sent struct {
	to domain.Address
	v  any
}

type fakeSender struct {
	mu      sync.Mutex
	online  map[domain.Address]bool
	full    map[domain.Address]bool
	history []sent
}

func newFakeSender(online ...domain.Address) *fakeSender {
	s := &fakeSender{online: map[domain.Address]bool{}, full: map[domain.Address]bool{}}
	for _, a := range online {
		s.online[a] = true
	}
	return s
}

func (s *fakeSender) SendTo(addr domain.Address, v any) domain.DeliveryOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online[addr] {
		return domain.Offline
	}
	if s.full[addr] {
		return domain.Dropped
	}
	s.history = append(s.history, sent{to: addr, v: v})
	return domain.Delivered
}

func (s *fakeSender) to(addr domain.Address) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, h := range s.history {
		if h.to == addr {
			out = append(out, h.v)
		}
	}
	return out
}

type fakeAdmission struct {
	mu       sync.Mutex
	denyFrom map[domain.Address]string
	denyTo   map[domain.Address]string
	recorded [][2]domain.Address
}

func newFakeAdmission() *fakeAdmission {
	return &fakeAdmission{denyFrom: map[domain.Address]string{}, denyTo: map[domain.Address]string{}}
}

func (a *fakeAdmission) CanStartCall(_ context.Context, addr domain.Address) domain.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.denyFrom[addr]; ok {
		return domain.Deny(r)
	}
	return domain.Allow("")
}

func (a *fakeAdmission) CanReceiveCall(_ context.Context, addr domain.Address) domain.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.denyTo[addr]; ok {
		return domain.Deny(r)
	}
	return domain.Allow("")
}

func (a *fakeAdmission) RecordCall(caller, callee domain.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recorded = append(a.recorded, [2]domain.Address{caller, callee})
}

const (
	alice domain.Address = "alice"
	bob   domain.Address = "bob"
	carol domain.Address = "carol"
)

func longConfig() Config {
	return Config{RingTimeout: time.Minute, AnswerTimeout: time.Minute, Retention: time.Minute}
}

func newTestMachine(t *testing.T, cfg Config, send *fakeSender, admit *fakeAdmission) *Machine {
	m := NewMachine(cfg, send, admit)
	t.Cleanup(m.Close)
	return m
}

func initCall(t *testing.T, m *Machine, id domain.SessionID) {
	res, err := m.Init(context.Background(), Init{SessionID: id, Caller: alice, Callee: bob, Type: domain.CallAudio, Timestamp: 1, Nonce: "n-init"})
	require.NoError(t, err)
	require.Equal(t, InitRinging, res)
}

func state(t *testing.T, m *Machine, id domain.SessionID) domain.CallState {
	s, ok := m.Snapshot(id)
	require.True(t, ok)
	return s.State
}

func TestInitRingsCallee(t *testing.T) {
	send := newFakeSender(alice, bob)
	admit := newFakeAdmission()
	m := newTestMachine(t, longConfig(), send, admit)

	initCall(t, m, "s1")

	assert.Equal(t, domain.CallInitiated, state(t, m, "s1"))
	require.Len(t, send.to(bob), 1)
	in := send.to(bob)[0].(core.CallIncomingFrame)
	assert.Equal(t, core.TypeCallIncoming, in.Type)
	assert.Equal(t, "alice", in.FromAddress)
	assert.Equal(t, domain.SessionID("s1"), in.SessionID)
	assert.Equal(t, domain.CallAudio, in.CallType)
	assert.Equal(t, [][2]domain.Address{{alice, bob}}, admit.recorded)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestInitRejectsBadRequests(t *testing.T) {
	m := newTestMachine(t, longConfig(), newFakeSender(alice, bob), newFakeAdmission())

	_, err := m.Init(context.Background(), Init{SessionID: "self", Caller: alice, Callee: alice})
	assert.ErrorIs(t, err, ErrSelfCall)

	initCall(t, m, "dup")
	_, err = m.Init(context.Background(), Init{SessionID: "dup", Caller: alice, Callee: bob})
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestInitCalleeOffline(t *testing.T) {
	send := newFakeSender(alice)
	admit := newFakeAdmission()
	m := newTestMachine(t, longConfig(), send, admit)

	res, err := m.Init(context.Background(), Init{SessionID: "s1", Caller: alice, Callee: bob})
	require.NoError(t, err)
	assert.Equal(t, InitTimedOut, res)
	assert.Equal(t, domain.CallTimedOut, state(t, m, "s1"))

	require.Len(t, send.to(alice), 1)
	notice := send.to(alice)[0].(core.CallNoticeFrame)
	assert.Equal(t, core.TypeCallTimeout, notice.Type)
	assert.Equal(t, "peer offline", notice.Reason)
	assert.Empty(t, admit.recorded)
	assert.Zero(t, m.ActiveCount())
}

func TestInitCalleeUnreachable(t *testing.T) {
	send := newFakeSender(alice, bob)
	send.full[bob] = true
	m := newTestMachine(t, longConfig(), send, newFakeAdmission())

	res, err := m.Init(context.Background(), Init{SessionID: "s1", Caller: alice, Callee: bob})
	require.NoError(t, err)
	assert.Equal(t, InitTimedOut, res)
	assert.Equal(t, "peer unreachable", send.to(alice)[0].(core.CallNoticeFrame).Reason)
}

func TestInitDenied(t *testing.T) {
	t.Run("caller over quota", func(t *testing.T) {
		send := newFakeSender(alice, bob)
		admit := newFakeAdmission()
		admit.denyFrom[alice] = "limit reached"
		m := newTestMachine(t, longConfig(), send, admit)

		res, err := m.Init(context.Background(), Init{SessionID: "s1", Caller: alice, Callee: bob})
		require.NoError(t, err)
		assert.Equal(t, InitDenied, res)

		_, ok := m.Snapshot("s1")
		assert.False(t, ok)
		assert.Empty(t, send.to(bob))
		require.Len(t, send.to(alice), 1)
		notice := send.to(alice)[0].(core.CallNoticeFrame)
		assert.Equal(t, core.TypeCallDenied, notice.Type)
		assert.Equal(t, "limit reached", notice.Reason)
	})

	t.Run("callee over quota", func(t *testing.T) {
		send := newFakeSender(alice, bob)
		admit := newFakeAdmission()
		admit.denyTo[bob] = "receive limit"
		m := newTestMachine(t, longConfig(), send, admit)

		res, err := m.Init(context.Background(), Init{SessionID: "s1", Caller: alice, Callee: bob})
		require.NoError(t, err)
		assert.Equal(t, InitRejected, res)
		assert.Equal(t, domain.CallRejected, state(t, m, "s1"))
		assert.Empty(t, send.to(bob))
		assert.Equal(t, core.TypeCallDenied, send.to(alice)[0].(core.CallNoticeFrame).Type)
	})
}

func TestHappyPath(t *testing.T) {
	send := newFakeSender(alice, bob)
	m := newTestMachine(t, longConfig(), send, newFakeAdmission())
	initCall(t, m, "s1")

	require.NoError(t, m.Control(Control{Event: EventRinging, SessionID: "s1", From: bob, Nonce: "n1"}))
	assert.Equal(t, domain.CallRinging, state(t, m, "s1"))

	require.NoError(t, m.Control(Control{Event: EventAccept, SessionID: "s1", From: bob, Nonce: "n2"}))
	assert.Equal(t, domain.CallActive, state(t, m, "s1"))

	require.NoError(t, m.Control(Control{Event: EventEnd, SessionID: "s1", From: alice, Nonce: "n3"}))
	assert.Equal(t, domain.CallEnded, state(t, m, "s1"))

	toAlice := send.to(alice)
	require.Len(t, toAlice, 2)
	assert.Equal(t, core.TypeCallRinging, toAlice[0].(core.CallControlFrame).Type)
	accept := toAlice[1].(core.CallControlFrame)
	assert.Equal(t, core.TypeCallAccept, accept.Type)
	assert.Equal(t, "bob", accept.FromAddress)
	assert.Equal(t, "alice", accept.ToAddress)

	toBob := send.to(bob)
	require.Len(t, toBob, 2)
	assert.Equal(t, core.TypeCallEnd, toBob[1].(core.CallControlFrame).Type)
	assert.Zero(t, m.ActiveCount())
}

func TestAcceptWithoutRinging(t *testing.T) {
	m := newTestMachine(t, longConfig(), newFakeSender(alice, bob), newFakeAdmission())
	initCall(t, m, "s1")

	require.NoError(t, m.Control(Control{Event: EventAccept, SessionID: "s1", From: bob}))
	assert.Equal(t, domain.CallActive, state(t, m, "s1"))
}

func TestControlErrors(t *testing.T) {
	m := newTestMachine(t, longConfig(), newFakeSender(alice, bob, carol), newFakeAdmission())
	initCall(t, m, "s1")

	assert.ErrorIs(t, m.Control(Control{Event: EventEnd, SessionID: "nope", From: alice}), ErrUnknownSession)
	assert.ErrorIs(t, m.Control(Control{Event: EventEnd, SessionID: "s1", From: carol}), ErrNotParticipant)
	assert.ErrorIs(t, m.Control(Control{Event: EventAccept, SessionID: "s1", From: alice}), ErrCalleeOnly)
	assert.ErrorIs(t, m.Control(Control{Event: EventRinging, SessionID: "s1", From: alice}), ErrCalleeOnly)

	require.NoError(t, m.Control(Control{Event: EventAccept, SessionID: "s1", From: bob}))
	assert.ErrorIs(t, m.Control(Control{Event: EventReject, SessionID: "s1", From: bob}), ErrInvalidTransition)
	assert.Equal(t, domain.CallActive, state(t, m, "s1"))
}

func TestRepeatedEventsAreNoops(t *testing.T) {
	send := newFakeSender(alice, bob)
	m := newTestMachine(t, longConfig(), send, newFakeAdmission())
	initCall(t, m, "s1")

	require.NoError(t, m.Control(Control{Event: EventAccept, SessionID: "s1", From: bob, Nonce: "a"}))
	require.NoError(t, m.Control(Control{Event: EventAccept, SessionID: "s1", From: bob, Nonce: "a"}))
	require.NoError(t, m.Control(Control{Event: EventAccept, SessionID: "s1", From: bob, Nonce: "b"}))
	assert.Len(t, send.to(alice), 1)

	require.NoError(t, m.Control(Control{Event: EventEnd, SessionID: "s1", From: alice}))
	require.NoError(t, m.Control(Control{Event: EventEnd, SessionID: "s1", From: alice}))
	require.NoError(t, m.Control(Control{Event: EventEnd, SessionID: "s1", From: bob}))
	assert.Equal(t, domain.CallEnded, state(t, m, "s1"))
	// One call:incoming and one call:end.
	assert.Len(t, send.to(bob), 2)
}

func TestRejectWhileRinging(t *testing.T) {
	send := newFakeSender(alice, bob)
	m := newTestMachine(t, longConfig(), send, newFakeAdmission())
	initCall(t, m, "s1")

	require.NoError(t, m.Control(Control{Event: EventRinging, SessionID: "s1", From: bob}))
	require.NoError(t, m.Control(Control{Event: EventReject, SessionID: "s1", From: bob}))
	assert.Equal(t, domain.CallRejected, state(t, m, "s1"))

	require.NoError(t, m.Control(Control{Event: EventAccept, SessionID: "s1", From: bob}))
	assert.Equal(t, domain.CallRejected, state(t, m, "s1"))
}

func TestRingTimeout(t *testing.T) {
	send := newFakeSender(alice, bob)
	cfg := Config{RingTimeout: 20 * time.Millisecond, AnswerTimeout: time.Minute, Retention: time.Minute}
	m := newTestMachine(t, cfg, send, newFakeAdmission())
	initCall(t, m, "s1")

	require.Eventually(t, func() bool {
		s, _ := m.Snapshot("s1")
		return s.State == domain.CallTimedOut
	}, time.Second, 5*time.Millisecond)

	require.Len(t, send.to(alice), 1)
	assert.Equal(t, core.TypeCallTimeout, send.to(alice)[0].(core.CallNoticeFrame).Type)
	// call:incoming then call:timeout
	require.Len(t, send.to(bob), 2)
	assert.Equal(t, core.TypeCallTimeout, send.to(bob)[1].(core.CallNoticeFrame).Type)

	require.NoError(t, m.Control(Control{Event: EventAccept, SessionID: "s1", From: bob}))
	assert.Equal(t, domain.CallTimedOut, state(t, m, "s1"))
}

func TestAnswerTimeout(t *testing.T) {
	send := newFakeSender(alice, bob)
	cfg := Config{RingTimeout: time.Minute, AnswerTimeout: 20 * time.Millisecond, Retention: time.Minute}
	m := newTestMachine(t, cfg, send, newFakeAdmission())
	initCall(t, m, "s1")
	require.NoError(t, m.Control(Control{Event: EventRinging, SessionID: "s1", From: bob}))

	require.Eventually(t, func() bool {
		s, _ := m.Snapshot("s1")
		return s.State == domain.CallTimedOut
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "no answer", send.to(alice)[1].(core.CallNoticeFrame).Reason)
}

func TestAcceptedCallDoesNotTimeOut(t *testing.T) {
	cfg := Config{RingTimeout: 20 * time.Millisecond, AnswerTimeout: 20 * time.Millisecond, Retention: time.Minute}
	m := newTestMachine(t, cfg, newFakeSender(alice, bob), newFakeAdmission())
	initCall(t, m, "s1")
	require.NoError(t, m.Control(Control{Event: EventAccept, SessionID: "s1", From: bob}))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, domain.CallActive, state(t, m, "s1"))
}

func TestRetention(t *testing.T) {
	cfg := Config{RingTimeout: time.Minute, AnswerTimeout: time.Minute, Retention: 20 * time.Millisecond}
	m := newTestMachine(t, cfg, newFakeSender(alice, bob), newFakeAdmission())
	initCall(t, m, "s1")
	require.NoError(t, m.Control(Control{Event: EventEnd, SessionID: "s1", From: bob}))

	_, err := m.Init(context.Background(), Init{SessionID: "s1", Caller: alice, Callee: bob})
	assert.ErrorIs(t, err, ErrSessionExists)

	require.Eventually(t, func() bool {
		_, ok := m.Snapshot("s1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, m.Control(Control{Event: EventEnd, SessionID: "s1", From: bob}), ErrUnknownSession)
}

func TestConcurrentInitSameSession(t *testing.T) {
	m := newTestMachine(t, longConfig(), newFakeSender(alice, bob), newFakeAdmission())

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, exists := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Init(context.Background(), Init{SessionID: "race", Caller: alice, Callee: bob})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, ErrSessionExists) {
				exists++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 15, exists)
}

func TestClosedMachineArmsNoTimers(t *testing.T) {
	send := newFakeSender(alice, bob)
	m := newTestMachine(t, Config{RingTimeout: 20 * time.Millisecond, AnswerTimeout: 20 * time.Millisecond, Retention: 20 * time.Millisecond}, send, newFakeAdmission())
	initCall(t, m, "s1")

	m.Close()

	_, err := m.Init(context.Background(), Init{SessionID: "s2", Caller: alice, Callee: bob})
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := m.Snapshot("s2")
	assert.False(t, ok)

	require.NoError(t, m.Control(Control{Event: EventRinging, SessionID: "s1", From: bob}))
	assert.Never(t, func() bool {
		s, _ := m.Snapshot("s1")
		return s.State != domain.CallRinging
	}, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, m.Control(Control{Event: EventEnd, SessionID: "s1", From: alice}))
	assert.Never(t, func() bool {
		_, ok := m.Snapshot("s1")
		return !ok
	}, 100*time.Millisecond, 10*time.Millisecond)
}
