package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/ocn-node/internal/logging"
	"github.com/R3E-Network/ocn-node/internal/storage"
)

// Sweeper periodically removes proxy resources older than a TTL.
type Sweeper struct {
	store    storage.ProxyResourceStore
	ttl      time.Duration
	schedule string
	log      *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper. schedule uses cron syntax including the
// "@every 1h" descriptors.
func NewSweeper(store storage.ProxyResourceStore, ttl time.Duration, schedule string, log *logging.Logger) *Sweeper {
	if log == nil {
		log = logging.New("proxy-sweeper", "info", "json")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		schedule: schedule,
		log:      log,
		now:      time.Now,
	}
}

// Start schedules the sweep. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).
		WithField("ttl", s.ttl.String()).
		Info("proxy sweeper started")
	return nil
}

// Stop waits for a running sweep to finish or for ctx to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("proxy sweeper stopped")
	return nil
}

// Sweep runs one purge and returns the number of removed records.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := s.store.DeleteProxyResourcesOlderThan(ctx, s.now().Add(-s.ttl))
	if err != nil {
		s.log.WithError(err).Warn("proxy sweep failed")
		return 0
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("expired proxy resources removed")
	}
	return removed
}
