package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/callvault/internal/metrics"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				c.log.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warn().Err(err).Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump is the only reader of c. Everything a connection sends is
// dispatched from here, so frames of one sender are handled in order.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		ctl.Orch.OnDisconnect(c.addr, c)
		c.Close()
		cancel()
		c.log.Info().Str("address", string(c.addr)).Msg("readPump closing")
	}()

	c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
		ctl.handleFrame(ctx, c, data)
	}
}

func (ctl *SignalWSController) handleFrame(ctx context.Context, c *WsSignalConn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("frame handler panic")
			ctl.sendError(c, KindProtocol, "Internal error", "")
		}
	}()

	// A superseded connection no longer speaks for its address.
	if c.isClosed() {
		c.log.Debug().Msg("frame on closed connection dropped")
		return
	}

	if !c.limiter.Allow() {
		metrics.Frames.WithLabelValues("rate_limited").Inc()
		ctl.sendError(c, KindRateLimited, "Too many frames", "")
		return
	}

	f, err := ctl.codec.decode(data)
	if err != nil {
		metrics.Frames.WithLabelValues("invalid").Inc()
		c.log.Debug().Err(err).Msg("bad frame")
		ctl.sendError(c, KindProtocol, err.Error(), "")
		return
	}
	metrics.Frames.WithLabelValues(f.frameType()).Inc()

	if f.needsRegistration() && c.addr == "" {
		ctl.sendError(c, KindUnauthenticated, "Not registered", "")
		return
	}
	ctl.dispatch(ctx, c, f)
}

func (ctl *SignalWSController) dispatch(ctx context.Context, c *WsSignalConn, f inbound) {
	switch f := f.(type) {
	case pingFrame:
		ctl.handlePing(c)
	case registerFrame:
		ctl.handleRegister(c, f)
	case msgSendFrame:
		ctl.handleMsgSend(c, f)
	case callInitFrame:
		ctl.handleCallInit(ctx, c, f)
	case callControlFrame:
		ctl.handleCallControl(c, f)
	default:
		ctl.sendError(c, KindProtocol, "Unsupported frame "+f.frameType(), "")
	}
}
