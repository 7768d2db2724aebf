// Package store defines the abstract persistence port (spec §4.2): a
// namespaced key-value backend with set-membership, hash-field and atomic
// counter capabilities. The concrete key-value backend itself is an
// external collaborator per spec §1 — this package only fixes the
// interface and two adapters that satisfy it: a SQLite-backed one,
// grounded on internal/core/db.go's schema-init-on-open, WAL pragmas and
// context-scoped lifetime, and the in-memory MemoryStore.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key, set member or hash field does not
// exist.
var ErrNotFound = errors.New("store: not found")

// Store is the minimum capability set spec §4.2 requires of the backend.
// Every method takes a context so callers can thread the server's root
// cancellation token through to the backend.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value at key unconditionally.
	Set(ctx context.Context, key string, value []byte) error
	// Replace is an alias of Set kept distinct for callers that want to
	// express "this key must already exist" in code even though the
	// backend does not enforce it (the concrete backend is free to, spec
	// §4.2 only requires the operation exist).
	Replace(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// SetAdd adds member to the named set.
	SetAdd(ctx context.Context, setKey, member string) error
	// SetRemove removes member from the named set.
	SetRemove(ctx context.Context, setKey, member string) error
	// SetContains reports whether member is present in the named set.
	SetContains(ctx context.Context, setKey, member string) (bool, error)
	// SetMembers returns every member of the named set. Order is
	// unspecified (spec §9: "ordering of ties is not defined").
	SetMembers(ctx context.Context, setKey string) ([]string, error)

	// HashGet returns a hash field's value, or ErrNotFound.
	HashGet(ctx context.Context, hashKey, field string) (string, error)
	// HashSet writes a hash field's value.
	HashSet(ctx context.Context, hashKey, field, value string) error

	// Incr atomically increments the named counter and returns its new
	// value. A counter that has never been set starts at 0 before the
	// increment, so the first call returns 1.
	Incr(ctx context.Context, counterKey string) (int64, error)

	// Close releases backend resources.
	Close() error
}

// Key naming conventions (spec §4.2 / §6): "<app>::<type>:<dbref>" for
// records, "<app>::<type>s" for a type's membership set, and
// "<app>::dbref:counter" for the global counter. app is the persisted
// namespace prefix (e.g. "mudpie").

// RecordKey returns the key for a single object's record.
func RecordKey(app, typ, dbref string) string {
	return fmt.Sprintf("%s::%s:%s", app, typ, dbref)
}

// MembershipSetKey returns the key for a type's membership set.
func MembershipSetKey(app, typ string) string {
	return fmt.Sprintf("%s::%ss", app, typ)
}

// CounterKey returns the key for the dbref counter.
func CounterKey(app string) string {
	return fmt.Sprintf("%s::dbref:counter", app)
}

// UsernameHashKey returns the key for the username -> dbref hash.
func UsernameHashKey(app string) string {
	return fmt.Sprintf("%s::usernames", app)
}
