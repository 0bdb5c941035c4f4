package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper periodically retires rooms that have been idle past the timeout.
// The authoritative emptiness check runs inside each room's critical
// section (Registry.RetireIfIdle), so the sweep cannot race an in-flight
// join.
type Reaper struct {
	Registry    *Registry
	Interval    time.Duration
	IdleTimeout time.Duration
}

// Run sweeps until ctx is done. Meant to be started as a goroutine from
// process wiring.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	log.Info().Str("module", "app.reaper").Dur("interval", r.Interval).Dur("idle_timeout", r.IdleTimeout).Msg("idle reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.reaper").Msg("idle reaper stopped")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep retires every currently idle room and reports how many went.
func (r *Reaper) Sweep() int {
	retired := 0
	for _, code := range r.Registry.ActiveCodes() {
		if r.Registry.RetireIfIdle(code, r.IdleTimeout) {
			retired++
		}
	}
	if retired > 0 {
		log.Info().Str("module", "app.reaper").Int("retired", retired).Msg("sweep complete")
	}
	return retired
}
