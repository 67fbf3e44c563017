package orch

import (
	"context"
	"time"

	"github.com/dkeye/callvault/internal/domain"
	"github.com/rs/zerolog/log"
)

const storeTimeout = 2 * time.Second

// StoreAvailable reports whether persistence is reachable right now.
func (o *Orchestrator) StoreAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return o.Store.Available(ctx)
}

// RegisterIdentity persists id when a store is available and reports
// whether it did. Without a store it succeeds in demo mode.
func (o *Orchestrator) RegisterIdentity(ctx context.Context, id domain.Identity) (bool, error) {
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}
	if id.Plan == "" {
		id.Plan = domain.PlanFree
	}
	if !o.StoreAvailable(ctx) {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := o.Store.Identities().Upsert(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// RememberIdentity upserts id in the background; signaling never waits
// for it.
func (o *Orchestrator) RememberIdentity(id domain.Identity) {
	go func() {
		persisted, err := o.RegisterIdentity(context.Background(), id)
		if err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("address", string(id.Address)).Msg("identity upsert failed")
			return
		}
		log.Debug().Str("module", "orch").Str("address", string(id.Address)).Bool("persisted", persisted).Msg("identity remembered")
	}()
}

// Contacts lists owner's contacts; onlyAllowed narrows to always-allowed
// entries. An unavailable store yields an empty list.
func (o *Orchestrator) Contacts(ctx context.Context, owner domain.Address, onlyAllowed bool) ([]domain.Contact, bool, error) {
	if !o.StoreAvailable(ctx) {
		return []domain.Contact{}, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	var (
		list []domain.Contact
		err  error
	)
	if onlyAllowed {
		list, err = o.Store.Contacts().AlwaysAllowed(ctx, owner)
	} else {
		list, err = o.Store.Contacts().List(ctx, owner)
	}
	if err != nil {
		return nil, true, err
	}
	if list == nil {
		list = []domain.Contact{}
	}
	return list, true, nil
}

// AddContact stores c and reports whether it was persisted.
func (o *Orchestrator) AddContact(ctx context.Context, c domain.Contact) (bool, error) {
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now().UTC()
	}
	if !o.StoreAvailable(ctx) {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := o.Store.Contacts().Put(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) IssueToken(ctx context.Context, addr domain.Address) (domain.SessionToken, error) {
	return o.Tokens.Issue(ctx, addr)
}
