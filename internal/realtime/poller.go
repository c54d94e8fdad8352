package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Poller runs a full refresh on a fixed interval and on demand. A failed
// tick is logged and the next one tries again.
type Poller struct {
	interval time.Duration
	refresh  func(ctx context.Context, trigger string) error
	trigger  chan struct{}
	logger   zerolog.Logger
}

func newPoller(interval time.Duration, refresh func(ctx context.Context, trigger string) error, logger zerolog.Logger) *Poller {
	return &Poller{
		interval: interval,
		refresh:  refresh,
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, "poll")
		case <-p.trigger:
			p.tick(ctx, "focus")
		}
	}
}

func (p *Poller) tick(ctx context.Context, trigger string) {
	if err := p.refresh(ctx, trigger); err != nil && ctx.Err() == nil {
		p.logger.Warn().Err(err).Str("trigger", trigger).Msg("refresh failed")
	}
}

// Trigger asks for an immediate refresh. Requests made while one is
// already queued collapse into it.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}
