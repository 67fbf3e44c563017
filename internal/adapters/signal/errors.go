package signal

import (
	"errors"

	"github.com/dkeye/callvault/internal/app/call"
	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
)

// ErrorKind is carried as the code of an error frame.
type ErrorKind string

const (
	KindProtocol              ErrorKind = "protocol"
	KindUnauthenticated       ErrorKind = "unauthenticated"
	KindUnknownSession        ErrorKind = "unknown_session"
	KindPolicyDenied          ErrorKind = "policy_denied"
	KindPeerOffline           ErrorKind = "peer_offline"
	KindDependencyUnavailable ErrorKind = "dependency_unavailable"
	KindRateLimited           ErrorKind = "rate_limited"
)

func (ctl *SignalWSController) sendError(c *WsSignalConn, kind ErrorKind, msg string, sid domain.SessionID) {
	ctl.sendJSON(c, core.ErrorFrame{
		Type:      core.TypeError,
		Code:      string(kind),
		Message:   msg,
		SessionID: sid,
	})
}

// callErrorKind maps call machine errors onto the wire taxonomy.
func callErrorKind(err error) ErrorKind {
	if errors.Is(err, call.ErrUnknownSession) {
		return KindUnknownSession
	}
	return KindProtocol
}
