package gateway

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// idleWindowMultiple is how many windows a rate bucket may sit unused
// before the janitor drops it. Generous on purpose: recreating a bucket
// resets nothing a client could exploit, so eviction only needs to bound
// memory.
const idleWindowMultiple = 10

// StartJanitor schedules periodic cleanup of expired cache entries and
// idle rate buckets. Returns a stop function.
func (s *Server) StartJanitor(schedule string) (func(), error) {
	if schedule == "" {
		return func() {}, nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	maxIdle := s.longestTierWindow() * idleWindowMultiple

	logger := slog.Default().With("component", "gateway.janitor")
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if s.cache != nil {
			if n := s.cache.Sweep(); n > 0 {
				logger.Debug("swept expired cache entries", "removed", n)
			}
		}
		s.limiter.Sweep(maxIdle)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule janitor: %w", err)
	}

	c.Start()
	logger.Info("janitor started", "schedule", schedule)
	return func() { c.Stop() }, nil
}

func (s *Server) longestTierWindow() time.Duration {
	longest := time.Minute
	for _, t := range s.cfg.Tiers {
		if t.Window > longest {
			longest = t.Window
		}
	}
	return longest
}
