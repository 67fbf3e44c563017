package signal

import (
	"context"

	"github.com/dkeye/callvault/internal/app/call"
	"github.com/dkeye/callvault/internal/domain"
)

func (ctl *SignalWSController) handleCallInit(ctx context.Context, conn *WsSignalConn, f callInitFrame) {
	sid := domain.SessionID(f.SessionID)
	if !ctl.checkFrom(conn, f.FromAddress, sid) {
		return
	}
	to, err := domain.ParseAddress(f.ToAddress)
	if err != nil {
		ctl.sendError(conn, KindProtocol, "Invalid to_address: "+err.Error(), sid)
		return
	}
	ct, ok := domain.ParseCallType(f.CallType)
	if !ok {
		ctl.sendError(conn, KindProtocol, "Invalid callType", sid)
		return
	}

	res, err := ctl.Orch.InitCall(ctx, call.Init{
		SessionID: sid,
		Caller:    conn.addr,
		Callee:    to,
		Type:      ct,
		Timestamp: int64(f.Timestamp),
		Nonce:     f.Nonce,
	})
	if err != nil {
		ctl.sendError(conn, callErrorKind(err), err.Error(), sid)
		return
	}
	conn.log.Debug().Str("session", f.SessionID).Str("to", string(to)).Str("result", string(res)).Msg("call init")
}

func (ctl *SignalWSController) handleCallControl(conn *WsSignalConn, f callControlFrame) {
	sid := domain.SessionID(f.SessionID)
	if !ctl.checkFrom(conn, f.FromAddress, sid) {
		return
	}
	err := ctl.Orch.ControlCall(call.Control{
		Event:     call.Event(f.Type),
		SessionID: sid,
		From:      conn.addr,
		Timestamp: int64(f.Timestamp),
		Nonce:     f.Nonce,
	})
	if err != nil {
		ctl.sendError(conn, callErrorKind(err), err.Error(), sid)
	}
}
