package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callvault/internal/adapters/rtc"
	"github.com/dkeye/callvault/internal/app/orch"
	"github.com/dkeye/callvault/internal/domain"
)

const appName = "CallVault"

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "CallVault backend is running"})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"app": appName, "version": Version})
}

type diagnosticsResponse struct {
	App           string  `json:"app"`
	Environment   string  `json:"environment"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Server        struct {
		Port int `json:"port"`
	} `json:"server"`
	WebRTC struct {
		TURNConfigured bool `json:"turnConfigured"`
		STUNServers    int  `json:"stunServers"`
		TURNServers    int  `json:"turnServers"`
	} `json:"webrtc"`
	Database struct {
		Configured bool `json:"configured"`
		Available  bool `json:"available"`
	} `json:"database"`
	Signaling orch.Stats `json:"signaling"`
}

func (s *Server) diagnostics(c *gin.Context) {
	var resp diagnosticsResponse
	resp.App = appName
	resp.Environment = s.cfg.Environment
	resp.Version = Version
	resp.UptimeSeconds = time.Since(s.started).Seconds()
	resp.Server.Port = s.cfg.Port
	resp.WebRTC.TURNConfigured = s.cfg.WebRTC.TURNConfigured()
	resp.WebRTC.STUNServers = len(s.cfg.WebRTC.STUNURLs)
	resp.WebRTC.TURNServers = len(s.cfg.WebRTC.TURNURLs)
	resp.Database.Configured = s.cfg.Database.Path != ""
	resp.Database.Available = s.orch.StoreAvailable(c.Request.Context())
	resp.Signaling = s.orch.Stats()
	c.JSON(http.StatusOK, resp)
}

func (s *Server) iceVerify(c *gin.Context) {
	c.JSON(http.StatusOK, rtc.Verify(s.cfg.WebRTC))
}

func (s *Server) turnConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": s.ice.Public(), "mode": s.ice.Mode()})
}

func (s *Server) serverTime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"serverTime": time.Now().UnixMilli()})
}

type addressRequest struct {
	Address string `json:"address"`
}

func (s *Server) issueToken(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Address == "" {
		badRequest(c, "missing or invalid address")
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	tok, err := s.orch.IssueToken(c.Request.Context(), addr)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("address", req.Address).Msg("token issue")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (s *Server) tokenStatus(c *gin.Context) {
	nonce := c.Param("nonce")
	c.JSON(http.StatusOK, gin.H{"nonce": nonce, "known": s.orch.Tokens.Known(c.Request.Context(), nonce)})
}

type identityRequest struct {
	Address string `json:"address"`
	PubKey  string `json:"pubkey"`
	Name    string `json:"name"`
}

func (s *Server) registerIdentity(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Address == "" {
		badRequest(c, "missing or invalid address")
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	persisted, err := s.orch.RegisterIdentity(c.Request.Context(), domain.Identity{Address: addr, PubKey: req.PubKey, Name: req.Name})
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("address", req.Address).Msg("identity register")
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "persisted": persisted, "mode": storageMode(persisted)})
}

func storageMode(persisted bool) string {
	if persisted {
		return "persistent"
	}
	return "demo"
}

func pathAddress(c *gin.Context) (domain.Address, bool) {
	addr, err := domain.ParseAddress(c.Param("address"))
	if err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	return addr, true
}

func (s *Server) listContacts(c *gin.Context) {
	s.contacts(c, false)
}

func (s *Server) alwaysAllowed(c *gin.Context) {
	s.contacts(c, true)
}

func (s *Server) contacts(c *gin.Context, onlyAllowed bool) {
	owner, ok := pathAddress(c)
	if !ok {
		return
	}
	list, _, err := s.orch.Contacts(c.Request.Context(), owner, onlyAllowed)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("owner", string(owner)).Msg("contacts lookup")
		list = []domain.Contact{}
	}
	c.JSON(http.StatusOK, list)
}

type contactRequest struct {
	ContactAddress string `json:"contact_address"`
	Name           string `json:"name"`
	AlwaysAllowed  bool   `json:"always_allowed"`
}

func (s *Server) addContact(c *gin.Context) {
	owner, ok := pathAddress(c)
	if !ok {
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ContactAddress == "" {
		badRequest(c, "missing or invalid contact_address")
		return
	}
	addr, err := domain.ParseAddress(req.ContactAddress)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	persisted, err := s.orch.AddContact(c.Request.Context(), domain.Contact{
		Owner:         owner,
		Address:       addr,
		Name:          req.Name,
		AlwaysAllowed: req.AlwaysAllowed,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("owner", string(owner)).Msg("contact add")
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "persisted": persisted, "mode": storageMode(persisted)})
}
