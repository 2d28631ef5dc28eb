package room

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs Store.SweepExpired on a fixed interval. The opportunistic
// per-request sweep already bounds memory for request-driven deployments;
// the Sweeper covers long-lived processes that can go quiet between requests.
type Sweeper struct {
	store    *Store
	interval time.Duration
	log      *slog.Logger
}

func NewSweeper(store *Store, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.store.SweepExpired(); removed > 0 {
				s.log.Debug("swept expired rooms", "removed", removed, "remaining", s.store.Len())
			}
		}
	}
}
