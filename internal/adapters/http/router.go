package http

import (
	"context"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callvault/internal/adapters/rtc"
	"github.com/dkeye/callvault/internal/adapters/signal"
	"github.com/dkeye/callvault/internal/app/orch"
	"github.com/dkeye/callvault/internal/config"
)

// Version is overridden at build time with -ldflags.
var Version = "0.1.0"

const clientTokenKey = "client_token"

// ClientTokenMiddleware keeps a stable per-browser token in the session
// cookie. The gateway uses it to prefix connection ids.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

type Server struct {
	cfg     *config.Config
	orch    *orch.Orchestrator
	ice     *rtc.ICEProvider
	started time.Time
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ice *rtc.ICEProvider) (*gin.Engine, error) {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	ctl, err := signal.NewSignalWSController(o, cfg.Signaling)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, orch: o, ice: ice, started: time.Now()}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CallVaultSessions", store))
	r.Use(ClientTokenMiddleware())

	ws := func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	}
	r.GET("/ws", ws)
	r.GET("/", s.root)
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/ws/signal", ws)
	api.GET("/health", s.health)
	api.GET("/version", s.version)
	api.GET("/diagnostics", s.diagnostics)
	api.GET("/ice-verify", s.iceVerify)
	api.GET("/turn-config", s.turnConfig)
	api.GET("/server-time", s.serverTime)
	api.POST("/call-session-token", s.issueToken)
	api.GET("/call-session-token/:nonce/status", s.tokenStatus)
	api.POST("/identity/register", s.registerIdentity)
	api.GET("/contacts/:address", s.listContacts)
	api.POST("/contacts/:address", s.addContact)
	api.GET("/contacts/:address/always-allowed", s.alwaysAllowed)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r, nil
}
