package domain

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// SessionToken is an ephemeral call authorization. Immutable once issued.
type SessionToken struct {
	Token      string             `json:"token"`
	Nonce      string             `json:"nonce"`
	Address    Address            `json:"-"`
	IssuedAt   time.Time          `json:"issuedAt"`
	ExpiresAt  time.Time          `json:"expiresAt"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
	Plan       PlanName           `json:"plan"`
	AllowTurn  bool               `json:"allowTurn"`
	AllowVideo bool               `json:"allowVideo"`
}
