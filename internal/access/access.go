// Package access gates transmissions on the channel's carrier-sense signal.
//
// Before every send the controller polls the carrier; while it is busy it sleeps and
// doubles the delay up to a ceiling. There is no contention window and no collision
// detection once the transmission has started.
package access

import (
	"context"
	"sync/atomic"
	"time"

	"raptorcast/internal/config"
	"raptorcast/internal/metrics"
	"raptorcast/internal/utils"
)

//go:generate mockgen -destination=mock_medium_test.go -package=access raptorcast/internal/access Medium

// Medium is the part of the channel the controller needs.
type Medium interface {
	Transmit(payload []byte) error
	CarrierSensed() bool
}

// Backoff describes one contention episode: start at Initial, multiply after every busy
// poll, never exceed Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    config.BackoffInitial,
		Max:        config.BackoffMax,
		Multiplier: config.BackoffMultiplier,
	}
}

// Next returns the delay that follows d.
func (b Backoff) Next(d time.Duration) time.Duration {
	m := b.Multiplier
	if m < 1.0 {
		m = 1.0
	}
	next := time.Duration(float64(d) * m)
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	return next
}

type Controller struct {
	medium  Medium
	backoff Backoff
	sleep   func(ctx context.Context, d time.Duration) error

	sends atomic.Uint64
	waits atomic.Uint64
}

type Option func(*Controller)

// WithSleep replaces the timer-based wait, tests use it to record the delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

func New(m Medium, b Backoff, opts ...Option) *Controller {
	c := &Controller{
		medium:  m,
		backoff: b,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send waits for an idle carrier and transmits payload. The delay restarts from
// Backoff.Initial on every call. Cancelling ctx aborts the wait without transmitting.
func (c *Controller) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := c.backoff.Initial
	for c.medium.CarrierSensed() {
		c.waits.Add(1)
		metrics.PromBackoffWaits.Inc()
		utils.DebugLog("[ACCESS] carrier busy, backing off %v", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		delay = c.backoff.Next(delay)
	}
	c.sends.Add(1)
	return c.medium.Transmit(payload)
}

// Waits returns the number of backoff sleeps since creation.
func (c *Controller) Waits() uint64 { return c.waits.Load() }

func (c *Controller) Sends() uint64 { return c.sends.Load() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
