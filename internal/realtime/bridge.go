// Package realtime keeps a dashboard session's view in step with the
// backend: one push channel, a periodic poll, and full refreshes whenever
// the channel (re)connects.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/events"
	"github.com/hackgods/appointment-sync/internal/observability/metrics"
)

var ErrBridgeClosed = errors.New("bridge closed")

// Refresher fetches everything authoritative and applies it.
type Refresher func(ctx context.Context, trigger string) error

type Options struct {
	Role         string
	Open         Opener // nil when the role has no push channel
	Refresh      Refresher
	PollInterval time.Duration // zero disables polling
	RetryMin     time.Duration
	RetryMax     time.Duration
	// Filter drops events not meant for this session.
	Filter    func(events.Event) bool
	DedupSize int
}

type Bridge struct {
	opts       Options
	dispatcher *events.Dispatcher[events.Event]
	seen       *lru.Cache[string, struct{}]
	poller     *Poller
	logger     zerolog.Logger
	metrics    *metrics.SyncMetrics

	mu      sync.Mutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewBridge(opts Options, logger zerolog.Logger, m *metrics.SyncMetrics) (*Bridge, error) {
	if opts.Refresh == nil {
		return nil, errors.New("realtime: refresh is required")
	}
	if opts.RetryMin <= 0 {
		opts.RetryMin = time.Second
	}
	if opts.RetryMax < opts.RetryMin {
		opts.RetryMax = opts.RetryMin
	}
	if opts.DedupSize <= 0 {
		opts.DedupSize = 1024
	}
	seen, err := lru.New[string, struct{}](opts.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("realtime: dedup cache: %w", err)
	}

	b := &Bridge{
		opts:       opts,
		dispatcher: events.NewDispatcher[events.Event](),
		seen:       seen,
		logger:     logger.With().Str("component", "realtime").Str("role", opts.Role).Logger(),
		metrics:    m,
	}
	if opts.PollInterval > 0 {
		b.poller = newPoller(opts.PollInterval, b.Refresh, b.logger)
	}
	return b, nil
}

func (b *Bridge) Subscribe(fn func(events.Event)) (unsubscribe func()) {
	return b.dispatcher.Subscribe(fn)
}

// Start launches the stream and poller. It is a no-op after the first call
// or after Close.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.started {
		return
	}
	b.started = true

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	if b.opts.Open != nil {
		s := &Stream{
			role:    b.opts.Role,
			open:    b.opts.Open,
			onEvent: b.handle,
			onConnect: func(ctx context.Context) {
				if err := b.Refresh(ctx, "connect"); err != nil && ctx.Err() == nil {
					b.logger.Warn().Err(err).Msg("refresh after connect failed")
				}
			},
			retryMin: b.opts.RetryMin,
			retryMax: b.opts.RetryMax,
			logger:   b.logger,
			metrics:  b.metrics,
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			s.Run(ctx)
		}()
	}
	if b.poller != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.poller.Run(ctx)
		}()
	}
}

// Refresh runs a full refresh now unless the bridge is closed.
func (b *Bridge) Refresh(ctx context.Context, trigger string) error {
	if b.Closed() {
		return ErrBridgeClosed
	}
	err := b.opts.Refresh(ctx, trigger)
	b.metrics.ObserveRefresh(b.opts.Role, trigger, err)
	return err
}

// Trigger requests an immediate refresh, as on window focus.
func (b *Bridge) Trigger(ctx context.Context) {
	if b.poller != nil {
		b.poller.Trigger()
		return
	}
	if err := b.Refresh(ctx, "focus"); err != nil && !errors.Is(err, ErrBridgeClosed) {
		b.logger.Warn().Err(err).Msg("focus refresh failed")
	}
}

// Inject feeds an event in as if it came off the push channel.
func (b *Bridge) Inject(ev events.Event) {
	b.handle(ev)
}

func (b *Bridge) handle(ev events.Event) {
	if b.Closed() {
		return
	}
	if b.opts.Filter != nil && !b.opts.Filter(ev) {
		return
	}
	// Without an id two real bookings of the same slot are byte-identical,
	// the projection tells them apart from replays.
	if ev.Type == events.TypeAppointmentBooked && ev.ID == nil {
		b.dispatcher.Dispatch(ev)
		return
	}
	if seen, _ := b.seen.ContainsOrAdd(ev.Fingerprint(), struct{}{}); seen {
		b.logger.Debug().Str("type", string(ev.Type)).Msg("dropping replayed event")
		return
	}
	b.dispatcher.Dispatch(ev)
}

func (b *Bridge) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close stops the stream and poller and waits for them. Results that land
// afterwards are discarded.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}
