// Package cron wraps robfig/cron to provide the periodic "full sync
// regardless of events" trigger described in spec.md §4.3.
package cron

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Trigger fires fn on the configured schedule. It wraps a single
// robfig/cron entry so each syncer can own its own schedule independently,
// matching spec.md's per-syncer cron configuration key.
type Trigger struct {
	c       *cron.Cron
	entryID cron.EntryID
	log     *slog.Logger
}

// New parses expr (standard 5-field cron syntax) and schedules fn to run
// on each tick once Start is called. fn should re-evaluate the noop rule
// and invoke the pipeline driver with fullSync=true, per spec.md §4.3; it
// is the caller's responsibility, not this package's.
func New(expr string, fn func(), log *slog.Logger) (*Trigger, error) {
	if log == nil {
		log = slog.Default()
	}
	c := cron.New()
	id, err := c.AddFunc(expr, fn)
	if err != nil {
		return nil, err
	}
	return &Trigger{c: c, entryID: id, log: log}, nil
}

// Start begins firing fn on schedule. Non-blocking: robfig/cron runs its
// own goroutine.
func (t *Trigger) Start() {
	t.c.Start()
}

// Stop halts future fires and waits for any in-progress fn to return.
func (t *Trigger) Stop() {
	ctx := t.c.Stop()
	<-ctx.Done()
}
