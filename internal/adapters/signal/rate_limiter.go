package signal

import (
	"golang.org/x/time/rate"

	"github.com/dkeye/callvault/internal/config"
)

// newConnLimiter gives each connection its own token bucket for inbound
// frames. Over-limit frames are answered but not dispatched.
func newConnLimiter(cfg config.SignalingConfig) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.FrameRate), cfg.FrameBurst)
}
