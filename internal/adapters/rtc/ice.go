// Package rtc builds the ICE configuration handed to clients. Media itself
// never passes through this server.
package rtc

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/callvault/internal/config"
	"github.com/dkeye/callvault/internal/domain"
)

const (
	ModeTURN     = "turn"
	ModeSTUNOnly = "stun-only"

	// turnConfigTTL bounds credentials served by the public turn-config
	// endpoint, which has no token to borrow an expiry from.
	turnConfigTTL = time.Hour
)

type ICEProvider struct {
	cfg config.WebRTCConfig
	now func() time.Time
}

func NewICEProvider(cfg config.WebRTCConfig) *ICEProvider {
	return &ICEProvider{cfg: cfg, now: time.Now}
}

// ICEServers returns one entry per STUN url and, when TURN is configured
// and allowed, a single TURN entry carrying credentials valid until
// expiresAt.
func (p *ICEProvider) ICEServers(addr domain.Address, allowTurn bool, expiresAt time.Time) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(p.cfg.STUNURLs)+1)
	for _, u := range p.cfg.STUNURLs {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	if !allowTurn || !p.cfg.TURNConfigured() {
		return servers
	}
	user, cred := p.turnCredentials(addr, expiresAt)
	return append(servers, webrtc.ICEServer{
		URLs:       append([]string(nil), p.cfg.TURNURLs...),
		Username:   user,
		Credential: cred,
	})
}

// Public is the bundle served without a session token.
func (p *ICEProvider) Public() []webrtc.ICEServer {
	return p.ICEServers("anonymous", true, p.now().Add(turnConfigTTL))
}

func (p *ICEProvider) Mode() string {
	if p.cfg.TURNConfigured() {
		return ModeTURN
	}
	return ModeSTUNOnly
}

// turnCredentials follows the TURN REST convention understood by coturn's
// use-auth-secret: username is "<unix expiry>:<address>" and the
// credential is base64(HMAC-SHA1(secret, username)). Without a shared
// secret the static pair from config is used.
func (p *ICEProvider) turnCredentials(addr domain.Address, expiresAt time.Time) (string, string) {
	if p.cfg.TURNSecret == "" {
		return p.cfg.TURNUsername, p.cfg.TURNCredential
	}
	user := strconv.FormatInt(expiresAt.Unix(), 10) + ":" + string(addr)
	return user, TURNPassword(p.cfg.TURNSecret, user)
}

func TURNPassword(secret, username string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
