// Package store persists identities, contacts, call usage and token
// issuance in SQLite. The signaling core works without it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/dkeye/callvault/internal/core"
	"github.com/dkeye/callvault/internal/domain"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS identities (
		address    TEXT PRIMARY KEY,
		pubkey     TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL DEFAULT '',
		plan       TEXT NOT NULL DEFAULT 'free',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		owner          TEXT NOT NULL,
		address        TEXT NOT NULL,
		name           TEXT NOT NULL DEFAULT '',
		always_allowed INTEGER NOT NULL DEFAULT 0,
		added_at       INTEGER NOT NULL,
		PRIMARY KEY (owner, address)
	)`,
	`CREATE TABLE IF NOT EXISTS call_usage (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		address   TEXT NOT NULL,
		direction TEXT NOT NULL,
		at        INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS call_usage_lookup ON call_usage (address, direction, at)`,
	`CREATE TABLE IF NOT EXISTS session_tokens (
		nonce      TEXT PRIMARY KEY,
		address    TEXT NOT NULL,
		plan       TEXT NOT NULL,
		issued_at  INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}

type SQLite struct {
	db *sql.DB
}

var _ core.Store = (*SQLite)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	log.Info().Str("module", "store").Str("path", path).Msg("sqlite ready")
	return &SQLite{db: db}, nil
}

func (s *SQLite) Available(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func (s *SQLite) Identities() core.IdentityRepository { return identities{s.db} }
func (s *SQLite) Contacts() core.ContactRepository    { return contacts{s.db} }
func (s *SQLite) Usage() core.UsageRepository         { return usage{s.db} }
func (s *SQLite) Tokens() core.TokenRepository        { return tokens{s.db} }

func (s *SQLite) Close() error { return s.db.Close() }

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type identities struct{ db *sql.DB }

// Upsert keeps the stored plan and creation time; empty pubkey or name do
// not overwrite known values.
func (r identities) Upsert(ctx context.Context, id domain.Identity) error {
	plan := id.Plan
	if plan == "" {
		plan = domain.PlanFree
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO identities (address, pubkey, name, plan, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			pubkey = CASE WHEN excluded.pubkey <> '' THEN excluded.pubkey ELSE identities.pubkey END,
			name   = CASE WHEN excluded.name <> '' THEN excluded.name ELSE identities.name END`,
		string(id.Address), id.PubKey, id.Name, string(plan), millis(id.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert identity %s: %w", id.Address, err)
	}
	return nil
}

func (r identities) Get(ctx context.Context, addr domain.Address) (domain.Identity, bool, error) {
	var (
		id      domain.Identity
		address string
		plan    string
		created int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT address, pubkey, name, plan, created_at FROM identities WHERE address = ?`,
		string(addr)).Scan(&address, &id.PubKey, &id.Name, &plan, &created)
	if err == sql.ErrNoRows {
		return domain.Identity{}, false, nil
	}
	if err != nil {
		return domain.Identity{}, false, fmt.Errorf("get identity %s: %w", addr, err)
	}
	id.Address = domain.Address(address)
	id.Plan = domain.PlanName(plan)
	id.CreatedAt = fromMillis(created)
	return id, true, nil
}

type contacts struct{ db *sql.DB }

func (r contacts) Put(ctx context.Context, c domain.Contact) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO contacts (owner, address, name, always_allowed, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner, address) DO UPDATE SET
			name = excluded.name,
			always_allowed = excluded.always_allowed`,
		string(c.Owner), string(c.Address), c.Name, c.AlwaysAllowed, millis(c.AddedAt))
	if err != nil {
		return fmt.Errorf("put contact %s/%s: %w", c.Owner, c.Address, err)
	}
	return nil
}

func (r contacts) List(ctx context.Context, owner domain.Address) ([]domain.Contact, error) {
	return r.query(ctx, `SELECT owner, address, name, always_allowed, added_at FROM contacts
		WHERE owner = ? ORDER BY address`, owner)
}

func (r contacts) AlwaysAllowed(ctx context.Context, owner domain.Address) ([]domain.Contact, error) {
	return r.query(ctx, `SELECT owner, address, name, always_allowed, added_at FROM contacts
		WHERE owner = ? AND always_allowed = 1 ORDER BY address`, owner)
}

func (r contacts) query(ctx context.Context, q string, owner domain.Address) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, q, string(owner))
	if err != nil {
		return nil, fmt.Errorf("list contacts of %s: %w", owner, err)
	}
	defer rows.Close()

	result := []domain.Contact{}
	for rows.Next() {
		var (
			c              domain.Contact
			ownerCol, addr string
			added          int64
		)
		if err := rows.Scan(&ownerCol, &addr, &c.Name, &c.AlwaysAllowed, &added); err != nil {
			return nil, err
		}
		c.Owner = domain.Address(ownerCol)
		c.Address = domain.Address(addr)
		c.AddedAt = fromMillis(added)
		result = append(result, c)
	}
	return result, rows.Err()
}

type usage struct{ db *sql.DB }

func (r usage) Record(ctx context.Context, addr domain.Address, dir domain.CallDirection, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO call_usage (address, direction, at) VALUES (?, ?, ?)`,
		string(addr), string(dir), millis(at))
	if err != nil {
		return fmt.Errorf("record usage %s: %w", addr, err)
	}
	return nil
}

func (r usage) CountSince(ctx context.Context, addr domain.Address, dir domain.CallDirection, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_usage WHERE address = ? AND direction = ? AND at >= ?`,
		string(addr), string(dir), millis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage %s: %w", addr, err)
	}
	return n, nil
}

type tokens struct{ db *sql.DB }

func (r tokens) Record(ctx context.Context, t domain.SessionToken) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO session_tokens (nonce, address, plan, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT(nonce) DO NOTHING`,
		t.Nonce, string(t.Address), string(t.Plan), millis(t.IssuedAt), millis(t.ExpiresAt))
	if err != nil {
		return fmt.Errorf("record token: %w", err)
	}
	return nil
}

func (r tokens) SeenNonce(ctx context.Context, nonce string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_tokens WHERE nonce = ?`, nonce).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup nonce: %w", err)
	}
	return n > 0, nil
}

// PruneTokens deletes issuance records that expired before cutoff.
func (s *SQLite) PruneTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE expires_at < ?`, millis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
