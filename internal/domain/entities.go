package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates pipeline components on the ingest endpoints. Only
// the sha256 hash of the issued key is stored; the prefix survives for
// display in listings.
type APIKey struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	Name       string       `db:"name" json:"name"`
	KeyHash    string       `db:"key_hash" json:"-"`
	KeyPrefix  string       `db:"key_prefix" json:"key_prefix"`
	Scopes     []string     `db:"scopes" json:"scopes"`
	LastUsedAt sql.NullTime `db:"last_used_at" json:"last_used_at,omitempty"`
	ExpiresAt  sql.NullTime `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// Expired reports whether the key carries an expiry that has elapsed.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt.Valid && now.After(k.ExpiresAt.Time)
}

// HasScope reports whether the key grants the named scope. A key issued
// without scopes grants everything.
func (k *APIKey) HasScope(scope string) bool {
	if len(k.Scopes) == 0 {
		return true
	}
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
