package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/telemetry"
)

// DispatcherConfig bounds concurrency and retries.
type DispatcherConfig struct {
	Workers         int           // concurrent deliveries
	MaxTries        uint          // attempts per message
	MaxElapsed      time.Duration // give up after this long
	InitialInterval time.Duration
}

// DefaultDispatcherConfig is used for zero fields.
var DefaultDispatcherConfig = DispatcherConfig{
	Workers:         8,
	MaxTries:        5,
	MaxElapsed:      2 * time.Minute,
	InitialInterval: 500 * time.Millisecond,
}

// Dispatcher delivers messages on a bounded goroutine pool with exponential backoff.
// Delivery failures are logged and counted, never returned to the caller.
type Dispatcher struct {
	pool *ants.Pool
	sink Sink
	cfg  DispatcherConfig
}

var _ Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher delivering to sink.
func NewDispatcher(sink Sink, cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultDispatcherConfig.Workers
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = DefaultDispatcherConfig.MaxTries
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = DefaultDispatcherConfig.MaxElapsed
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultDispatcherConfig.InitialInterval
	}

	pool, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			log.Error().Interface("panic", p).Msg("Notification worker panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification pool: %w", err)
	}

	return &Dispatcher{pool: pool, sink: sink, cfg: cfg}, nil
}

// NotifyInvitation schedules delivery. The request context is detached so delivery
// outlives the request that triggered it.
func (d *Dispatcher) NotifyInvitation(ctx context.Context, msg *InvitationMessage) {
	ctx = context.WithoutCancel(ctx)

	err := d.pool.Submit(func() {
		d.deliver(ctx, msg)
	})
	if err != nil {
		telemetry.GetMetrics().NotificationsFailedTotal.Add(ctx, 1)
		log.Warn().
			Err(err).
			Str("invitation_id", msg.InvitationID.String()).
			Msg("Dropped invitation notification")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg *InvitationMessage) {
	started := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, d.sink.Deliver(ctx, msg)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.cfg.MaxTries),
		backoff.WithMaxElapsedTime(d.cfg.MaxElapsed),
	)

	metrics := telemetry.GetMetrics()
	metrics.NotificationDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	if err != nil {
		metrics.NotificationsFailedTotal.Add(ctx, 1)
		log.Error().
			Err(err).
			Int("attempts", attempts).
			Str("invitation_id", msg.InvitationID.String()).
			Msg("Failed to deliver invitation notification")
		return
	}

	metrics.NotificationsDeliveredTotal.Add(ctx, 1)
	log.Debug().
		Int("attempts", attempts).
		Str("invitation_id", msg.InvitationID.String()).
		Msg("Delivered invitation notification")
}

// Close waits up to timeout for in-flight deliveries.
func (d *Dispatcher) Close(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}
