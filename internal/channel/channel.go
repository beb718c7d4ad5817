// Package channel describes the packet channel the protocol runs over and provides an
// in-memory half-duplex link for tests and simulation.
//
// A channel delivers whole packets. It reports integrity through the ok flag of the
// receive callback and exposes a carrier-sense signal for channel access.
package channel

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

var ErrClosed = errors.New("channel: closed")

// ReceiveFunc is invoked once per arriving packet from a goroutine owned by the channel.
type ReceiveFunc func(ok bool, payload []byte)

type Channel interface {
	Transmit(payload []byte) error
	CarrierSensed() bool
	OnReceive(fn ReceiveFunc)
}

// Loopback is one endpoint of an in-memory link. Packets transmitted on one endpoint are
// delivered to the receive callback of its peer, in order, on the peer's goroutine.
type Loopback struct {
	mu      sync.Mutex
	peer    *Loopback
	recv    ReceiveFunc
	carrier func() bool
	rng     *rand.Rand

	dropRate    float64
	corruptRate float64
	dropped     atomic.Uint64

	queue     chan delivery
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type delivery struct {
	ok      bool
	payload []byte
}

type LoopbackOption func(*Loopback)

// WithDropRate discards transmitted packets with probability p, before the peer sees them.
func WithDropRate(p float64) LoopbackOption {
	return func(l *Loopback) { l.dropRate = p }
}

// WithCorruptRate delivers packets with ok=false with probability p.
func WithCorruptRate(p float64) LoopbackOption {
	return func(l *Loopback) { l.corruptRate = p }
}

// WithCarrier replaces the carrier-sense signal (idle by default).
func WithCarrier(fn func() bool) LoopbackOption {
	return func(l *Loopback) { l.carrier = fn }
}

func WithSeed(seed int64) LoopbackOption {
	return func(l *Loopback) { l.rng = rand.New(rand.NewSource(seed)) }
}

func WithQueue(size int) LoopbackOption {
	return func(l *Loopback) { l.queue = make(chan delivery, size) }
}

func NewLoopback(opts ...LoopbackOption) *Loopback {
	l := &Loopback{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		queue:  make(chan delivery, 4096),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.wg.Add(1)
	go l.deliverLoop()
	return l
}

// Link connects two endpoints in both directions.
func Link(a, b *Loopback) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

func (l *Loopback) OnReceive(fn ReceiveFunc) {
	l.mu.Lock()
	l.recv = fn
	l.mu.Unlock()
}

func (l *Loopback) CarrierSensed() bool {
	l.mu.Lock()
	fn := l.carrier
	l.mu.Unlock()
	if fn == nil {
		return false
	}
	return fn()
}

// Transmit copies payload and queues it for the peer. It blocks while the peer's queue is
// full and fails once either side is closed.
func (l *Loopback) Transmit(payload []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}

	l.mu.Lock()
	peer := l.peer
	drop := l.dropRate > 0 && l.rng.Float64() < l.dropRate
	corrupt := l.corruptRate > 0 && l.rng.Float64() < l.corruptRate
	l.mu.Unlock()

	if peer == nil {
		return errors.New("channel: endpoint not linked")
	}
	if drop {
		l.dropped.Add(1)
		return nil
	}

	d := delivery{ok: !corrupt, payload: append([]byte(nil), payload...)}
	select {
	case peer.queue <- d:
		return nil
	case <-peer.closed:
		return ErrClosed
	case <-l.closed:
		return ErrClosed
	}
}

func (l *Loopback) deliverLoop() {
	defer l.wg.Done()
	for {
		select {
		case d := <-l.queue:
			l.mu.Lock()
			fn := l.recv
			l.mu.Unlock()
			if fn != nil {
				fn(d.ok, d.payload)
			}
		case <-l.closed:
			return
		}
	}
}

// Dropped counts packets the link lost on purpose.
func (l *Loopback) Dropped() uint64 { return l.dropped.Load() }

// Close stops delivery. Packets still queued are discarded.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	l.wg.Wait()
	return nil
}
