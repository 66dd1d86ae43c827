// Package store provides the durable key-value storage that mirrors session
// state so a reload (or a gateway restart) does not require a new login.
package store

import (
	"context"
)

// Keys persisted by the session manager. Absence of KeyToken is the only
// authoritative "not authenticated" signal.
const (
	KeyToken       = "auth_token"
	KeyUser        = "user_data"
	KeyPhoneNumber = "current_phone_number"
)

// AllKeys lists every key the session manager writes.
var AllKeys = []string{KeyToken, KeyUser, KeyPhoneNumber}

// Store is a string key-value store. Each key is independently settable and
// removable. Get returns sentinel.ErrNotFound for an absent key; Delete of an
// absent key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}
