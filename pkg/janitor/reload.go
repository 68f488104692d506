package janitor

import (
	"context"

	"github.com/RTSYork/VLAB/pkg/config"
	"github.com/RTSYork/VLAB/pkg/util"
)

// ReloadIfRequested consumes the reload flag and, when it was up, re-reads
// the board document and syncs users and known boards into the store. A
// document that fails to parse leaves the store untouched; the flag is
// consumed either way so a broken file does not wedge the poll loop.
func (j *Janitor) ReloadIfRequested(ctx context.Context) error {
	requested, err := j.coord.ConfigReloadRequested(ctx)
	if err != nil {
		return err
	}
	if !requested {
		return nil
	}
	util.Infof("Config reload requested.")
	if err := j.coord.ClearConfigReload(ctx); err != nil {
		return err
	}
	doc, err := config.Load(j.cfg.Document)
	if err != nil {
		util.Errorf("Config reload rejected: %v", err)
		return nil
	}
	return j.applyDocument(ctx, doc)
}

// ReloadNow applies the board document unconditionally, flag or no flag.
// The reload verb uses it so operators can push a config change without
// going through the API.
func (j *Janitor) ReloadNow(ctx context.Context) error {
	if err := j.coord.ClearConfigReload(ctx); err != nil {
		return err
	}
	doc, err := config.Load(j.cfg.Document)
	if err != nil {
		return err
	}
	return j.applyDocument(ctx, doc)
}

func (j *Janitor) applyDocument(ctx context.Context, doc *config.Document) error {
	report, err := config.Sync(ctx, j.coord, doc)
	if err != nil {
		return err
	}
	util.Infof("Config reloaded: %d users, %d boards.", report.Users, report.Boards)
	for _, name := range report.UsersRemoved {
		util.WithUser(name).Info("User removed by config reload.")
	}
	for _, serial := range report.BoardsRemoved {
		util.WithBoard(serial).Info("Known board removed by config reload.")
	}
	return nil
}
