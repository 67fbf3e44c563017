package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
	"github.com/dkeye/callvault/internal/metrics"
)

// ICEProvider builds the ICE server bundle handed to a client.
type ICEProvider interface {
	ICEServers(addr domain.Address, allowTurn bool, expiresAt time.Time) []webrtc.ICEServer
}

// PlanSource resolves plan attributes for an address.
type PlanSource interface {
	PlanFor(ctx context.Context, addr domain.Address) domain.Plan
}

// TokenService issues ephemeral call-session tokens. Expiry is enforced by
// the token's consumer; the service only keeps issuance records.
type TokenService struct {
	plans PlanSource
	ice   ICEProvider
	store core.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewTokenService(plans PlanSource, ice ICEProvider, store core.Store, ttl time.Duration) *TokenService {
	if store == nil {
		store = core.NoStore{}
	}
	return &TokenService{plans: plans, ice: ice, store: store, ttl: ttl, now: time.Now}
}

func (t *TokenService) Issue(ctx context.Context, addr domain.Address) (domain.SessionToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return domain.SessionToken{}, fmt.Errorf("generate token: %w", err)
	}
	plan := t.plans.PlanFor(ctx, addr)
	now := t.now()
	tok := domain.SessionToken{
		Token:      base64.RawURLEncoding.EncodeToString(raw),
		Nonce:      uuid.NewString(),
		Address:    addr,
		IssuedAt:   now,
		ExpiresAt:  now.Add(t.ttl),
		Plan:       plan.Name,
		AllowTurn:  plan.AllowTurn,
		AllowVideo: plan.AllowVideo,
	}
	tok.ICEServers = t.ice.ICEServers(addr, plan.AllowTurn, tok.ExpiresAt)

	t.recordIssuance(ctx, tok)
	metrics.TokensIssued.Inc()
	log.Info().
		Str("module", "app.tokens").
		Str("address", string(addr)).
		Str("plan", string(plan.Name)).
		Bool("allow_turn", plan.AllowTurn).
		Int("ice_servers", len(tok.ICEServers)).
		Msg("token issued")
	return tok, nil
}

func (t *TokenService) recordIssuance(ctx context.Context, tok domain.SessionToken) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if !t.store.Available(ctx) {
		return
	}
	if err := t.store.Tokens().Record(ctx, tok); err != nil {
		log.Warn().Err(err).Str("module", "app.tokens").Str("address", string(tok.Address)).Msg("issuance record failed")
	}
}

// Known reports whether nonce was issued by this server. Consumers use it
// for optional replay detection; without a store the answer is false.
func (t *TokenService) Known(ctx context.Context, nonce string) bool {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if !t.store.Available(ctx) {
		return false
	}
	seen, err := t.store.Tokens().SeenNonce(ctx, nonce)
	return err == nil && seen
}
