package domain

import "time"

type SessionID string

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// ParseCallType maps an empty value to audio.
func ParseCallType(s string) (CallType, bool) {
	switch CallType(s) {
	case "", CallAudio:
		return CallAudio, true
	case CallVideo:
		return CallVideo, true
	}
	return "", false
}

type CallState string

const (
	CallNone      CallState = "none"
	CallInitiated CallState = "initiated"
	CallRinging   CallState = "ringing"
	CallAccepted  CallState = "accepted"
	CallActive    CallState = "active"
	CallEnded     CallState = "ended"
	CallRejected  CallState = "rejected"
	CallTimedOut  CallState = "timed-out"
)

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallEnded || s == CallRejected || s == CallTimedOut
}

// CallSession is a read-only snapshot of one call attempt.
type CallSession struct {
	ID        SessionID `json:"sessionId"`
	Caller    Address   `json:"caller"`
	Callee    Address   `json:"callee"`
	Type      CallType  `json:"callType"`
	State     CallState `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	LastNonce string    `json:"lastNonce,omitempty"`
}

// Counterpart returns the other party, or false if addr is not in the call.
func (c CallSession) Counterpart(addr Address) (Address, bool) {
	switch addr {
	case c.Caller:
		return c.Callee, true
	case c.Callee:
		return c.Caller, true
	}
	return "", false
}
