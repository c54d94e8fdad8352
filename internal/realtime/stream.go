package realtime

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/clinicapi"
	"github.com/hackgods/appointment-sync/internal/events"
	"github.com/hackgods/appointment-sync/internal/observability/metrics"
)

// Opener opens one push channel connection.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Stream keeps a push channel connected until its context ends or the
// credential is refused. Failures are logged and retried with a capped
// exponential delay. The delay only resets once a connection has delivered
// an event or stayed up for stableAfter.
type Stream struct {
	role        string
	open        Opener
	onEvent     func(events.Event)
	onConnect   func(ctx context.Context)
	retryMin    time.Duration
	retryMax    time.Duration
	stableAfter time.Duration // defaults to retryMax
	wait        func(ctx context.Context, d time.Duration) bool
	logger      zerolog.Logger
	metrics     *metrics.SyncMetrics
}

func (s *Stream) Run(ctx context.Context) {
	stableAfter := s.stableAfter
	if stableAfter <= 0 {
		stableAfter = s.retryMax
	}
	wait := s.wait
	if wait == nil {
		wait = sleep
	}

	delay := s.retryMin
	for {
		body, err := s.open(ctx)
		if ctx.Err() != nil {
			if body != nil {
				body.Close()
			}
			return
		}
		if errors.Is(err, clinicapi.ErrAuthRequired) {
			s.logger.Warn().Err(err).Msg("push channel refused credential, giving up")
			return
		}
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("push channel connect failed")
			if !wait(ctx, delay) {
				return
			}
			s.metrics.ObserveReconnect(s.role)
			delay = nextDelay(delay, s.retryMax)
			continue
		}

		connectedAt := time.Now()
		s.logger.Debug().Msg("push channel connected")
		// nothing missed while disconnected is ever replayed
		s.onConnect(ctx)

		n, err := s.consume(body)
		body.Close()
		if ctx.Err() != nil {
			return
		}
		if n > 0 || time.Since(connectedAt) >= stableAfter {
			delay = s.retryMin
		}
		s.logger.Info().Err(err).Int("events", n).Dur("retry_in", delay).Msg("push channel dropped")
		if !wait(ctx, delay) {
			return
		}
		s.metrics.ObserveReconnect(s.role)
		delay = nextDelay(delay, s.retryMax)
	}
}

// consume reads events until the body ends and reports how many it handed on.
func (s *Stream) consume(body io.Reader) (int, error) {
	r := events.NewReader(body)
	n := 0
	for {
		data, err := r.Next()
		if err != nil {
			return n, err
		}
		ev, err := events.Decode(data)
		if errors.Is(err, events.ErrUnknownType) {
			s.logger.Debug().Str("type", string(ev.Type)).Msg("ignoring unknown event type")
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("malformed push event")
			continue
		}
		s.onEvent(ev)
		n++
	}
}

func nextDelay(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
