package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/RTSYork/VLAB/pkg/util"
)

// Dial policy while the store is coming up at process start.
const (
	DialAttempts = 5
	DialDelay    = 2 * time.Second
)

// popMinRetries bounds the optimistic ZPopMin loop. A conflict means a
// concurrent popper won the member, so each retry targets the next one.
const popMinRetries = 32

// Redis implements Store on a single Redis instance.
type Redis struct {
	client *redis.Client
}

// New returns an unconnected store for the given address ("host:port").
func New(addr string) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

// Connect dials the store and verifies it with a ping.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	r := New(addr)
	if err := r.Ping(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// ConnectWithRetry dials the store, retrying while it comes up. Daemons
// call this at startup so a reboot ordering race does not kill them.
func ConnectWithRetry(ctx context.Context, addr string, attempts int, delay time.Duration) (*Redis, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("connect %s: %w: %v", addr, util.ErrStoreUnavailable, ctx.Err())
			}
		}
		r, err := Connect(ctx, addr)
		if err == nil {
			return r, nil
		}
		lastErr = err
		util.Warnf("control store not reachable at %s (attempt %d/%d): %v", addr, i+1, attempts, err)
	}
	return nil, lastErr
}

// Ping verifies the connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrapErr("ping", "", err)
	}
	return nil
}

// Close closes the connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Get reads a string key. Missing keys are ("", false, nil).
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get", key, err)
	}
	return val, true, nil
}

// Set writes a string key.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return wrapErr("set", key, err)
	}
	return nil
}

// SetEx writes a string key with a TTL.
func (r *Redis) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapErr("setex", key, err)
	}
	return nil
}

// SetNX writes a string key only if absent; reports whether it wrote.
// A zero ttl means no expiry.
func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapErr("setnx", key, err)
	}
	return ok, nil
}

// Del removes keys. Missing keys are not an error.
func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return wrapErr("del", keys[0], err)
	}
	return nil
}

// Exists reports whether the key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapErr("exists", key, err)
	}
	return n > 0, nil
}

// Incr increments a counter key and returns the new value.
func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("incr", key, err)
	}
	return n, nil
}

// SAdd adds members to a set.
func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	if err := r.client.SAdd(ctx, key, toInterfaces(members)...).Err(); err != nil {
		return wrapErr("sadd", key, err)
	}
	return nil
}

// SRem removes members from a set.
func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	if err := r.client.SRem(ctx, key, toInterfaces(members)...).Err(); err != nil {
		return wrapErr("srem", key, err)
	}
	return nil
}

// SMembers lists a set.
func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapErr("smembers", key, err)
	}
	return members, nil
}

// SIsMember reports set membership.
func (r *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrapErr("sismember", key, err)
	}
	return ok, nil
}

// SCard returns set cardinality.
func (r *Redis) SCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("scard", key, err)
	}
	return n, nil
}

// ZAdd inserts or updates a member with the given score.
func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := r.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err(); err != nil {
		return wrapErr("zadd", key, err)
	}
	return nil
}

// ZRem removes a member; reports whether it was present.
func (r *Redis) ZRem(ctx context.Context, key, member string) (bool, error) {
	n, err := r.client.ZRem(ctx, key, member).Result()
	if err != nil {
		return false, wrapErr("zrem", key, err)
	}
	return n > 0, nil
}

// ZRangeAll lists members in ascending score order.
func (r *Redis) ZRangeAll(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, wrapErr("zrange", key, err)
	}
	return members, nil
}

// ZScore reads a member's score. Missing members are (0, false, nil).
func (r *Redis) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := r.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr("zscore", key, err)
	}
	return score, true, nil
}

// ZCard returns sorted-set cardinality.
func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("zcard", key, err)
	}
	return n, nil
}

// ZPopMin removes and returns the lowest-scored member using an optimistic
// WATCH/MULTI/EXEC loop. Two concurrent poppers never receive the same
// member: the loser's EXEC is discarded and it retries on the next one.
func (r *Redis) ZPopMin(ctx context.Context, key string) (string, bool, error) {
	var member string
	var found bool

	txf := func(tx *redis.Tx) error {
		members, err := tx.ZRange(ctx, key, 0, 0).Result()
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		m := members[0]
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, key, m)
			return nil
		})
		if err != nil {
			return err
		}
		member, found = m, true
		return nil
	}

	for i := 0; i < popMinRetries; i++ {
		member, found = "", false
		err := r.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return member, found, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return "", false, wrapErr("zpopmin", key, err)
		}
	}
	return "", false, fmt.Errorf("zpopmin %s: %w", key, ErrTooManyConflicts)
}

func toInterfaces(members []string) []interface{} {
	out := make([]interface{}, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}

// wrapErr tags transport failures with the store-unavailable sentinel so
// callers can classify them without knowing the client library.
func wrapErr(op, key string, err error) error {
	if key == "" {
		return fmt.Errorf("store %s: %w: %v", op, util.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("store %s %s: %w: %v", op, key, util.ErrStoreUnavailable, err)
}
