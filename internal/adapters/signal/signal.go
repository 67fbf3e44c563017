package signal

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/callvault/internal/app/orch"
	"github.com/dkeye/callvault/internal/config"
	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
)

type SignalWSController struct {
	Orch  *orch.Orchestrator
	cfg   config.SignalingConfig
	codec *codec
}

func NewSignalWSController(o *orch.Orchestrator, cfg config.SignalingConfig) (*SignalWSController, error) {
	cd, err := newCodec()
	if err != nil {
		return nil, err
	}
	return &SignalWSController{Orch: o, cfg: cfg, codec: cd}, nil
}

// WsSignalConn is the gateway-owned side of one client connection.
type WsSignalConn struct {
	id      string
	conn    *websocket.Conn
	send    chan core.Frame
	limiter *rate.Limiter
	log     zerolog.Logger

	// addr is only touched by the read pump.
	addr domain.Address

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) ID() string { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// isClosed is true once the connection was closed locally, for example
// after being superseded or kicked.
func (c *WsSignalConn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close stops accepting frames. The write pump flushes what is queued and
// then closes the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := uuid.NewString()
	if token := c.GetString("client_token"); token != "" {
		id = token + "/" + id[:8]
	}
	logger := log.With().Str("module", "signal").Str("conn", id).Logger()
	logger.Info().Str("remote", c.ClientIP()).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:      id,
		conn:    ws,
		send:    make(chan core.Frame, ctl.cfg.OutboundBuffer),
		limiter: newConnLimiter(ctl.cfg),
		log:     logger,
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	if err := core.SendJSON(c, v); err != nil {
		c.log.Warn().Err(err).Msg("reply not queued")
	}
}
