package core

import (
	"encoding/json"

	"github.com/dkeye/callvault/internal/domain"
)

// Outbound frame types. Field names are fixed by the wire protocol.
const (
	TypeSuccess      = "success"
	TypeError        = "error"
	TypePong         = "pong"
	TypeMsgIncoming  = "msg:incoming"
	TypeMsgStatus    = "msg:status"
	TypeCallIncoming = "call:incoming"
	TypeCallRinging  = "call:ringing"
	TypeCallAccept   = "call:accept"
	TypeCallReject   = "call:reject"
	TypeCallEnd      = "call:end"
	TypeCallDenied   = "call:denied"
	TypeCallTimeout  = "call:timeout"
)

type SuccessFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Address string `json:"address,omitempty"`
}

type ErrorFrame struct {
	Type      string           `json:"type"`
	Code      string           `json:"code"`
	Message   string           `json:"message"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
}

type PongFrame struct {
	Type string `json:"type"`
}

type MsgIncomingFrame struct {
	Type        string          `json:"type"`
	FromAddress string          `json:"from_address"`
	Content     json.RawMessage `json:"content"`
	Timestamp   int64           `json:"timestamp"`
	Nonce       string          `json:"nonce"`
}

type MsgStatusFrame struct {
	Type      string                 `json:"type"`
	Status    domain.DeliveryOutcome `json:"status"`
	ToAddress string                 `json:"to_address"`
	Nonce     string                 `json:"nonce,omitempty"`
}

type CallIncomingFrame struct {
	Type        string           `json:"type"`
	FromAddress string           `json:"from_address"`
	SessionID   domain.SessionID `json:"sessionId"`
	CallType    domain.CallType  `json:"callType"`
	Timestamp   int64            `json:"timestamp"`
}

// CallControlFrame is forwarded 1:1 for ringing/accept/reject/end.
type CallControlFrame struct {
	Type        string           `json:"type"`
	ToAddress   string           `json:"to_address"`
	FromAddress string           `json:"from_address"`
	SessionID   domain.SessionID `json:"sessionId"`
	Timestamp   int64            `json:"timestamp"`
}

// CallNoticeFrame carries call:denied and call:timeout.
type CallNoticeFrame struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	Reason    string           `json:"reason"`
}

// Encode marshals v into a Frame.
func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

// SendJSON encodes v and enqueues it on conn.
func SendJSON(conn SignalConnection, v any) error {
	f, err := Encode(v)
	if err != nil {
		return err
	}
	return conn.TrySend(f)
}
