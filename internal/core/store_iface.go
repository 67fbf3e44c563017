package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/callvault/internal/domain"
)

// ErrStoreUnavailable is returned by every NoStore operation and by real
// stores that lost their backing database.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the persistence capability the core may use when present.
// Nothing in the signaling path may depend on it succeeding.
type Store interface {
	// Available reports whether the store can currently serve requests.
	Available(ctx context.Context) bool
	Identities() IdentityRepository
	Contacts() ContactRepository
	Usage() UsageRepository
	Tokens() TokenRepository
	Close() error
}

type IdentityRepository interface {
	Upsert(ctx context.Context, id domain.Identity) error
	Get(ctx context.Context, addr domain.Address) (domain.Identity, bool, error)
}

type ContactRepository interface {
	Put(ctx context.Context, c domain.Contact) error
	List(ctx context.Context, owner domain.Address) ([]domain.Contact, error)
	AlwaysAllowed(ctx context.Context, owner domain.Address) ([]domain.Contact, error)
}

type UsageRepository interface {
	Record(ctx context.Context, addr domain.Address, dir domain.CallDirection, at time.Time) error
	CountSince(ctx context.Context, addr domain.Address, dir domain.CallDirection, since time.Time) (int, error)
}

type TokenRepository interface {
	Record(ctx context.Context, t domain.SessionToken) error
	SeenNonce(ctx context.Context, nonce string) (bool, error)
}

// NoStore is the unavailable variant used when no database is configured.
type NoStore struct{}

var _ Store = NoStore{}

func (NoStore) Available(context.Context) bool { return false }
func (NoStore) Identities() IdentityRepository { return noIdentities{} }
func (NoStore) Contacts() ContactRepository    { return noContacts{} }
func (NoStore) Usage() UsageRepository         { return noUsage{} }
func (NoStore) Tokens() TokenRepository        { return noTokens{} }
func (NoStore) Close() error                   { return nil }

type (
	noIdentities struct{}
	noContacts   struct{}
	noUsage      struct{}
	noTokens     struct{}
)

func (noIdentities) Upsert(context.Context, domain.Identity) error { return ErrStoreUnavailable }

func (noIdentities) Get(context.Context, domain.Address) (domain.Identity, bool, error) {
	return domain.Identity{}, false, ErrStoreUnavailable
}

func (noContacts) Put(context.Context, domain.Contact) error { return ErrStoreUnavailable }

func (noContacts) List(context.Context, domain.Address) ([]domain.Contact, error) {
	return nil, ErrStoreUnavailable
}

func (noContacts) AlwaysAllowed(context.Context, domain.Address) ([]domain.Contact, error) {
	return nil, ErrStoreUnavailable
}

func (noUsage) Record(context.Context, domain.Address, domain.CallDirection, time.Time) error {
	return ErrStoreUnavailable
}

func (noUsage) CountSince(context.Context, domain.Address, domain.CallDirection, time.Time) (int, error) {
	return 0, ErrStoreUnavailable
}

func (noTokens) Record(context.Context, domain.SessionToken) error { return ErrStoreUnavailable }

func (noTokens) SeenNonce(context.Context, string) (bool, error) { return false, ErrStoreUnavailable }
