package receiver

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"raptorcast/internal/logging"
	"raptorcast/internal/metrics"
	"raptorcast/internal/packet"
	"raptorcast/internal/utils"
)

// RawReceiver is the far end of the uncoded baseline. Nothing is recovered: data is
// written in arrival order and the counter only measures what the link lost.
type RawReceiver struct {
	sink  io.Writer
	stats *utils.TransferStats
	log   zerolog.Logger

	mu      sync.Mutex
	started bool
	next    uint16 // ожидаемый следующий счетчик

	handled   atomic.Uint64 // все пакеты, включая битые
	delivered atomic.Uint64
	lost      atomic.Uint64
	late      atomic.Uint64
	written   atomic.Uint64
	progress  chan struct{}
}

func NewRaw(sink io.Writer, stats *utils.TransferStats) *RawReceiver {
	if stats == nil {
		stats = &utils.TransferStats{}
	}
	return &RawReceiver{
		sink:     sink,
		stats:    stats,
		log:      logging.Component("receiver"),
		progress: make(chan struct{}, 1),
	}
}

// Dispatch is the channel receive callback in raw mode.
func (r *RawReceiver) Dispatch(ok bool, payload []byte) {
	defer r.signal()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled.Add(1)

	if !ok {
		metrics.PromRxBad.WithLabelValues("channel").Inc()
		atomic.AddUint64(&r.stats.Malformed, 1)
		return
	}
	seq, data, err := packet.DecodeRaw(payload)
	if err != nil {
		metrics.PromRxBad.WithLabelValues("malformed").Inc()
		atomic.AddUint64(&r.stats.Malformed, 1)
		return
	}
	metrics.PromRxPackets.Inc()
	atomic.AddUint64(&r.stats.Packets, 1)
	atomic.AddUint64(&r.stats.Bytes, uint64(len(payload)))
	r.delivered.Add(1)

	switch gap := int16(seq - r.next); {
	case !r.started || gap == 0:
		r.next = seq + 1
	case gap > 0:
		r.lost.Add(uint64(gap))
		atomic.AddUint64(&r.stats.Dropped, uint64(gap))
		utils.DebugLog("[RECEIVER] raw gap: expected %d, got %d", r.next, seq)
		r.next = seq + 1
	default:
		r.late.Add(1)
	}
	r.started = true

	if len(data) == 0 {
		return
	}
	n, err := r.sink.Write(data)
	r.written.Add(uint64(n))
	if err != nil {
		r.log.Error().Err(err).Uint16("seq", seq).Msg("sink write failed")
	}
}

func (r *RawReceiver) signal() {
	select {
	case r.progress <- struct{}{}:
	default:
	}
}

// Delivered counts well-formed packets.
func (r *RawReceiver) Delivered() uint64 { return r.delivered.Load() }

// Lost counts counter values skipped between two delivered packets. Losses after the
// last delivered packet cannot be seen.
func (r *RawReceiver) Lost() uint64 { return r.lost.Load() }

// Late counts packets whose counter was behind the expected one.
func (r *RawReceiver) Late() uint64 { return r.late.Load() }

func (r *RawReceiver) Written() uint64 { return r.written.Load() }

// WaitHandled blocks until n packets, good or bad, went through Dispatch or ctx is done.
func (r *RawReceiver) WaitHandled(ctx context.Context, n uint64) error {
	for {
		if r.handled.Load() >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.progress:
		}
	}
}
