package signal

import (
	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, core.PongFrame{Type: core.TypePong})
}

func (ctl *SignalWSController) handleRegister(conn *WsSignalConn, f registerFrame) {
	addr, err := domain.ParseAddress(f.Address)
	if err != nil {
		ctl.sendError(conn, KindProtocol, "Invalid address: "+err.Error(), "")
		return
	}

	ctl.Orch.Register(conn.addr, addr, conn)
	conn.addr = addr
	conn.log.Info().Str("address", string(addr)).Msg("registered")

	ctl.sendJSON(conn, core.SuccessFrame{
		Type:    core.TypeSuccess,
		Message: "Registered successfully",
		Address: string(addr),
	})

	if f.PubKey != "" || f.Name != "" {
		ctl.Orch.RememberIdentity(domain.Identity{Address: addr, PubKey: f.PubKey, Name: f.Name})
	}
}

// checkFrom rejects frames that claim to come from another address.
func (ctl *SignalWSController) checkFrom(conn *WsSignalConn, from string, sid domain.SessionID) bool {
	if domain.Address(from) == conn.addr {
		return true
	}
	ctl.sendError(conn, KindProtocol, "from_address does not match the registered address", sid)
	return false
}
