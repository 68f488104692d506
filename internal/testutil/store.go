package testutil

import (
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/RTSYork/VLAB/pkg/store"
)

// NewStore starts an in-process Redis and returns a connected store.
// Both are torn down with the test.
func NewStore(t *testing.T) *store.Redis {
	t.Helper()

	mr := miniredis.RunT(t)
	s := store.New(mr.Addr())
	t.Cleanup(func() { s.Close() })

	if err := s.Ping(Context(t)); err != nil {
		t.Fatalf("pinging miniredis: %v", err)
	}
	return s
}

// NewStoreWithMini is NewStore but also returns the miniredis handle, for
// tests that need TTL inspection or FastForward.
func NewStoreWithMini(t *testing.T) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s := store.New(mr.Addr())
	t.Cleanup(func() { s.Close() })

	if err := s.Ping(Context(t)); err != nil {
		t.Fatalf("pinging miniredis: %v", err)
	}
	return s, mr
}

// SeedUser registers a user with optional overlord flag and allowed classes.
func SeedUser(t *testing.T, s *store.Redis, name string, overlord bool, classes ...string) {
	t.Helper()
	ctx := Context(t)

	if err := s.SAdd(ctx, store.KeyUsers(), name); err != nil {
		t.Fatalf("seeding user %s: %v", name, err)
	}
	if overlord {
		if err := s.Set(ctx, store.KeyUserOverlord(name), "true"); err != nil {
			t.Fatalf("seeding overlord flag for %s: %v", name, err)
		}
	}
	if len(classes) > 0 {
		if err := s.SAdd(ctx, store.KeyUserAllowedBoards(name), classes...); err != nil {
			t.Fatalf("seeding ACL for %s: %v", name, err)
		}
	}
}

// SeedKnownBoard registers the static metadata the config document owns.
func SeedKnownBoard(t *testing.T, s *store.Redis, serial, class, boardType string, reset bool) {
	t.Helper()
	ctx := Context(t)

	if err := s.SAdd(ctx, store.KeyKnownBoards(), serial); err != nil {
		t.Fatalf("seeding known board %s: %v", serial, err)
	}
	if err := s.Set(ctx, store.KeyKnownBoardClass(serial), class); err != nil {
		t.Fatalf("seeding class of %s: %v", serial, err)
	}
	if err := s.Set(ctx, store.KeyKnownBoardType(serial), boardType); err != nil {
		t.Fatalf("seeding type of %s: %v", serial, err)
	}
	if reset {
		if err := s.Set(ctx, store.KeyKnownBoardReset(serial), "true"); err != nil {
			t.Fatalf("seeding reset flag of %s: %v", serial, err)
		}
	}
}

// SeedAttachedBoard places a board in a class with both pools populated at
// the given score, as if the host agent had just attached it.
func SeedAttachedBoard(t *testing.T, s *store.Redis, serial, class, server string, port int, score float64) {
	t.Helper()
	ctx := Context(t)

	if err := s.SAdd(ctx, store.KeyBoardClasses(), class); err != nil {
		t.Fatalf("seeding class set: %v", err)
	}
	if err := s.SAdd(ctx, store.KeyClassBoards(class), serial); err != nil {
		t.Fatalf("seeding boards of %s: %v", class, err)
	}
	if err := s.ZAdd(ctx, store.KeyClassAvailable(class), score, serial); err != nil {
		t.Fatalf("seeding available pool: %v", err)
	}
	if err := s.ZAdd(ctx, store.KeyClassUnlocked(class), score, serial); err != nil {
		t.Fatalf("seeding unlocked pool: %v", err)
	}
	if err := s.Set(ctx, store.KeyBoardServer(serial), server); err != nil {
		t.Fatalf("seeding server of %s: %v", serial, err)
	}
	if err := s.Set(ctx, store.KeyBoardPort(serial), strconv.Itoa(port)); err != nil {
		t.Fatalf("seeding port of %s: %v", serial, err)
	}
}
