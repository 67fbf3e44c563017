package signal

import (
	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
)

func (ctl *SignalWSController) handleMsgSend(conn *WsSignalConn, f msgSendFrame) {
	if !ctl.checkFrom(conn, f.FromAddress, "") {
		return
	}
	to, err := domain.ParseAddress(f.ToAddress)
	if err != nil {
		ctl.sendError(conn, KindProtocol, "Invalid to_address: "+err.Error(), "")
		return
	}

	out := ctl.Orch.Route(domain.Envelope{
		From:      conn.addr,
		To:        to,
		Content:   f.Content,
		Timestamp: int64(f.Timestamp),
		Nonce:     f.Nonce,
	})
	ctl.sendJSON(conn, core.MsgStatusFrame{
		Type:      core.TypeMsgStatus,
		Status:    out,
		ToAddress: string(to),
		Nonce:     f.Nonce,
	})
}
