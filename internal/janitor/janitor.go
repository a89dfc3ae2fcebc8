// Package janitor runs the periodic empty-group sweep described in
// spec.md §4.6 as a safety net alongside the connection layer's own
// immediate prune-on-disconnect.
package janitor

import (
	"github.com/robfig/cron/v3"

	"github.com/lavamoat/tss-relay/internal/logger"
	"github.com/lavamoat/tss-relay/internal/store"
)

// Janitor wraps a cron schedule that periodically sweeps the store for
// groups whose client list has gone empty without a Disconnect call
// catching it.
type Janitor struct {
	cron *cron.Cron
}

// Start schedules the sweep to run once a minute and returns the running
// Janitor. Call Stop to halt it.
func Start(s *store.Store) *Janitor {
	c := cron.New()
	log := logger.Store()
	_, err := c.AddFunc("@every 1m", func() {
		if n := s.SweepEmptyGroups(); n > 0 {
			log.Warn().Int("groupsRemoved", n).Msg("swept empty groups")
		}
	})
	if err != nil {
		// AddFunc only fails on an unparseable schedule, which "@every 1m"
		// never is, so this never happens in practice.
		log.Error().Err(err).Msg("janitor schedule rejected")
	}
	c.Start()
	return &Janitor{cron: c}
}

// Stop halts the schedule, waiting for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
