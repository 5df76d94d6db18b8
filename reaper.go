package main

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// startReaper schedules the stale-PROCESSING sweep when REAPER_SCHEDULE is
// set. Invoices whose worker never called back eventually surface as ERROR
// instead of sitting in PROCESSING forever. Returns nil when disabled.
func startReaper(cfg Config, store *Store) (*cron.Cron, error) {
	if cfg.ReaperSchedule == "" {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(cfg.ReaperSchedule, func() {
		n, err := store.FailStaleProcessing(cfg.ReaperMaxAge)
		if err != nil {
			log.Printf("reaper sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("reaper: failed %d invoices stuck in PROCESSING for over %s", n, cfg.ReaperMaxAge)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reaper: %w", err)
	}
	c.Start()
	log.Printf("reaper scheduled (%s, max age %s)", cfg.ReaperSchedule, cfg.ReaperMaxAge)
	return c, nil
}
