package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Countdown drives the auto-submission protocol for one attempt. Remaining
// time is recomputed from wall clock on every tick, so a suspended or
// throttled client never leaves stale time behind: the first tick after
// resume lands on the true remaining value.
type Countdown struct {
	store    *Store
	interval time.Duration
	onExpire func()
	log      zerolog.Logger
}

// NewCountdown creates a countdown over the store's derived remaining time.
// onExpire is invoked at most once, when the clock reaches zero.
func NewCountdown(store *Store, onExpire func(), log zerolog.Logger) *Countdown {
	return &Countdown{
		store:    store,
		interval: time.Second,
		onExpire: onExpire,
		log:      log.With().Str("component", "countdown").Str("sheet_id", store.ID()).Logger(),
	}
}

// Run ticks until expiry, submission, or cancellation. The ticker is
// released on every exit path.
func (c *Countdown) Run(ctx context.Context) {
	// An attempt loaded after its deadline expires immediately.
	if c.fireIfExpired() {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.store.Submitted() {
				return
			}
			if c.fireIfExpired() {
				return
			}
		}
	}
}

func (c *Countdown) fireIfExpired() bool {
	if c.store.RemainingSeconds() > 0 {
		return false
	}
	if c.store.Submitted() {
		return true
	}
	c.log.Info().Msg("Time expired, triggering auto-submission")
	c.onExpire()
	return true
}
