package lease

import (
	"context"
	"strconv"
	"time"

	"github.com/RTSYork/VLAB/pkg/store"
)

// RegisterBoard asserts an attached board's existence: class membership
// and the server/port pair needed to reach its container. This is the
// whole of the in-container re-register job. It deliberately never
// touches the pools, which belong to attach and the release paths.
func (c *Coordinator) RegisterBoard(ctx context.Context, serial, class, server string, port int) error {
	if err := c.s.SAdd(ctx, store.KeyBoardClasses(), class); err != nil {
		return err
	}
	if err := c.s.SAdd(ctx, store.KeyClassBoards(class), serial); err != nil {
		return err
	}
	if err := c.s.Set(ctx, store.KeyBoardServer(serial), server); err != nil {
		return err
	}
	return c.s.Set(ctx, store.KeyBoardPort(serial), strconv.Itoa(port))
}

// ActivateBoard puts a freshly attached board into both pools and clears
// any lease or session left over from before the reattach.
func (c *Coordinator) ActivateBoard(ctx context.Context, serial, class string, t time.Time) error {
	if err := c.s.ZAdd(ctx, store.KeyClassAvailable(class), epoch(t), serial); err != nil {
		return err
	}
	if err := c.s.ZAdd(ctx, store.KeyClassUnlocked(class), epoch(t), serial); err != nil {
		return err
	}
	if err := c.s.Del(ctx, store.LockKeys(serial)...); err != nil {
		return err
	}
	return c.s.Del(ctx, store.SessionKeys(serial)...)
}

// SetBoardPort updates the host port after a container restart.
func (c *Coordinator) SetBoardPort(ctx context.Context, serial string, port int) error {
	return c.s.Set(ctx, store.KeyBoardPort(serial), strconv.Itoa(port))
}

// SetUser creates or updates a user: overlord flag and the replacement
// ACL. The allowed-classes set is rewritten wholesale so removals in the
// config document take effect.
func (c *Coordinator) SetUser(ctx context.Context, name string, overlord bool, allowed []string) error {
	if err := c.s.SAdd(ctx, store.KeyUsers(), name); err != nil {
		return err
	}
	if overlord {
		if err := c.s.Set(ctx, store.KeyUserOverlord(name), "true"); err != nil {
			return err
		}
	} else {
		if err := c.s.Del(ctx, store.KeyUserOverlord(name)); err != nil {
			return err
		}
	}
	if err := c.s.Del(ctx, store.KeyUserAllowedBoards(name)); err != nil {
		return err
	}
	if len(allowed) > 0 {
		return c.s.SAdd(ctx, store.KeyUserAllowedBoards(name), allowed...)
	}
	return nil
}

// RemoveUser drops a user's registration, ACL, and overlord flag. The
// user's OS account is not VLAB's to manage.
func (c *Coordinator) RemoveUser(ctx context.Context, name string) error {
	if err := c.s.SRem(ctx, store.KeyUsers(), name); err != nil {
		return err
	}
	return c.s.Del(ctx, store.KeyUserOverlord(name), store.KeyUserAllowedBoards(name))
}

// SetKnownBoard writes a serial's static metadata from the config document.
func (c *Coordinator) SetKnownBoard(ctx context.Context, kb KnownBoard) error {
	if err := c.s.SAdd(ctx, store.KeyKnownBoards(), kb.Serial); err != nil {
		return err
	}
	if err := c.s.Set(ctx, store.KeyKnownBoardClass(kb.Serial), kb.Class); err != nil {
		return err
	}
	if err := c.s.Set(ctx, store.KeyKnownBoardType(kb.Serial), kb.Type); err != nil {
		return err
	}
	if kb.Reset {
		return c.s.Set(ctx, store.KeyKnownBoardReset(kb.Serial), "true")
	}
	return c.s.Del(ctx, store.KeyKnownBoardReset(kb.Serial))
}

// RemoveKnownBoard drops a serial's static metadata.
func (c *Coordinator) RemoveKnownBoard(ctx context.Context, serial string) error {
	if err := c.s.SRem(ctx, store.KeyKnownBoards(), serial); err != nil {
		return err
	}
	return c.s.Del(ctx,
		store.KeyKnownBoardClass(serial),
		store.KeyKnownBoardType(serial),
		store.KeyKnownBoardReset(serial),
	)
}

// RequestConfigReload raises the reload flag the janitor watches.
func (c *Coordinator) RequestConfigReload(ctx context.Context) error {
	return c.s.SetEx(ctx, store.KeyConfigReload(), "1", ReloadFlagTTL)
}

// ConfigReloadRequested reports whether the reload flag is up.
func (c *Coordinator) ConfigReloadRequested(ctx context.Context) (bool, error) {
	return c.s.Exists(ctx, store.KeyConfigReload())
}

// ClearConfigReload consumes the reload flag.
func (c *Coordinator) ClearConfigReload(ctx context.Context) error {
	return c.s.Del(ctx, store.KeyConfigReload())
}
