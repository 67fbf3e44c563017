package rtc

import (
	"fmt"

	"github.com/pion/stun/v3"

	"github.com/dkeye/callvault/internal/config"
)

const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
)

type VerifyCounts struct {
	STUNServers int `json:"stunServersCount"`
	TURNServers int `json:"turnServersCount"`
}

type VerifyReport struct {
	Status        string       `json:"status"`
	Configuration VerifyCounts `json:"configuration"`
	Issues        []string     `json:"issues"`
}

// Verify checks every configured ICE url without contacting the servers.
func Verify(cfg config.WebRTCConfig) VerifyReport {
	rep := VerifyReport{
		Status: StatusOK,
		Configuration: VerifyCounts{
			STUNServers: len(cfg.STUNURLs),
			TURNServers: len(cfg.TURNURLs),
		},
		Issues: []string{},
	}
	fail := func(format string, args ...any) {
		rep.Status = StatusError
		rep.Issues = append(rep.Issues, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		if rep.Status == StatusOK {
			rep.Status = StatusWarning
		}
		rep.Issues = append(rep.Issues, fmt.Sprintf(format, args...))
	}

	if len(cfg.STUNURLs) == 0 {
		fail("no STUN servers configured")
	}
	for _, raw := range cfg.STUNURLs {
		u, err := stun.ParseURI(raw)
		if err != nil {
			fail("invalid STUN url %q: %v", raw, err)
			continue
		}
		if u.Scheme != stun.SchemeTypeSTUN && u.Scheme != stun.SchemeTypeSTUNS {
			fail("%q is listed as STUN but uses scheme %s", raw, u.Scheme)
		}
	}

	if len(cfg.TURNURLs) == 0 {
		warn("no TURN servers configured; peers behind symmetric NAT may not connect")
		return rep
	}
	for _, raw := range cfg.TURNURLs {
		u, err := stun.ParseURI(raw)
		if err != nil {
			fail("invalid TURN url %q: %v", raw, err)
			continue
		}
		if u.Scheme != stun.SchemeTypeTURN && u.Scheme != stun.SchemeTypeTURNS {
			fail("%q is listed as TURN but uses scheme %s", raw, u.Scheme)
		}
	}
	if cfg.TURNSecret == "" && (cfg.TURNUsername == "" || cfg.TURNCredential == "") {
		warn("TURN configured without a shared secret or static credentials")
	}
	return rep
}
