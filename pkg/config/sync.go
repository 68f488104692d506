package config

import (
	"context"
	"sort"

	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

// SyncReport summarizes one reconciliation pass.
type SyncReport struct {
	Users         int
	Boards        int
	UsersRemoved  []string
	BoardsRemoved []string
}

// Sync reconciles the store with the document: users and known boards
// present in the store but absent from the document are removed, every
// entry in the document is written (updates replace overlord flags and
// ACLs wholesale), and the port counter is initialized if absent. Board
// instance state is untouched; a deconfigured board detaches through the
// host agent or prober, not here.
func Sync(ctx context.Context, c *lease.Coordinator, doc *Document) (*SyncReport, error) {
	report := &SyncReport{Users: len(doc.Users), Boards: len(doc.Boards)}

	existing, err := c.Users(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(existing)
	for _, name := range existing {
		if _, ok := doc.Users[name]; ok {
			continue
		}
		util.WithUser(name).Info("User removed from config. Cleaning up.")
		if err := c.RemoveUser(ctx, name); err != nil {
			return nil, err
		}
		report.UsersRemoved = append(report.UsersRemoved, name)
	}
	for _, name := range sortedKeys(doc.Users) {
		u := doc.Users[name]
		if err := c.SetUser(ctx, name, u.Overlord, u.AllowedBoards); err != nil {
			return nil, err
		}
	}

	known, err := c.KnownBoards(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(known)
	for _, serial := range known {
		if _, ok := doc.Boards[serial]; ok {
			continue
		}
		util.WithBoard(serial).Info("Board removed from config. Dropping known-board metadata.")
		if err := c.RemoveKnownBoard(ctx, serial); err != nil {
			return nil, err
		}
		report.BoardsRemoved = append(report.BoardsRemoved, serial)
	}
	for _, serial := range sortedKeys(doc.Boards) {
		b := doc.Boards[serial]
		kb := lease.KnownBoard{Serial: serial, Class: b.Class, Type: b.Type, Reset: bool(b.Reset)}
		if err := c.SetKnownBoard(ctx, kb); err != nil {
			return nil, err
		}
	}

	// SetNX only, so reloads never rewind the counter.
	if err := c.InitPortCounter(ctx); err != nil {
		return nil, err
	}
	return report, nil
}
