// Package store provides the control store capability that every VLAB
// component coordinates through. The authoritative state of the lab
// (users, board registrations, leases, sessions) lives in a single
// logical key/value service; nothing is kept in process memory.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrTooManyConflicts is returned by ZPopMin when the optimistic
// transaction loses its watch repeatedly. Each conflict means another
// allocator made progress, so hitting the limit indicates pathological
// contention rather than a stuck system.
var ErrTooManyConflicts = errors.New("store: transaction conflict limit reached")

// Store is the contract the coordination layer is built on: strings with
// TTL and set-if-absent semantics, sets, sorted sets scored by epoch
// seconds, a counter, and an atomic pop of the lowest-scored member.
//
// Lookups use comma-ok results: a missing key is (zero, false, nil), not
// an error. Transport failures wrap util.ErrStoreUnavailable.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only if the key is absent; ttl of zero means no expiry.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key, member string) (bool, error)
	ZRangeAll(ctx context.Context, key string) ([]string, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// ZPopMin atomically removes and returns the lowest-scored member,
	// retrying on write conflicts with concurrent poppers. ok is false
	// when the set is empty.
	ZPopMin(ctx context.Context, key string) (string, bool, error)
}
