// Package receiver implements the decode side: the per-packet dispatch callback that
// drives block sessions and the loop that acknowledges every decoded block.
package receiver

import (
	"context"
	"io"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"raptorcast/internal/access"
	"raptorcast/internal/logging"
	"raptorcast/internal/metrics"
	"raptorcast/internal/packet"
	"raptorcast/internal/session"
	"raptorcast/internal/utils"
)

type Options struct {
	Codec       string
	PLR         int
	Trigger     session.DecodeTrigger
	Rand        *rand.Rand
	AckRepeat   int
	AckInterval time.Duration
}

type Receiver struct {
	opts  Options
	ctrl  *access.Controller
	stats *utils.TransferStats
	log   zerolog.Logger

	mu    sync.Mutex // сериализует Dispatch
	table *session.Table

	started  chan *session.Block
	progress chan struct{}

	decodeComplete atomic.Bool
	blocksDone     atomic.Uint64
}

// New builds a receiver writing recovered chunks to sink and sending acks through
// ctrl. stats may be nil.
func New(opts Options, sink io.Writer, ctrl *access.Controller, stats *utils.TransferStats) *Receiver {
	if opts.AckRepeat < 1 {
		opts.AckRepeat = 1
	}
	if stats == nil {
		stats = &utils.TransferStats{}
	}
	r := &Receiver{
		opts:     opts,
		ctrl:     ctrl,
		stats:    stats,
		log:      logging.Component("receiver"),
		started:  make(chan *session.Block, 64),
		progress: make(chan struct{}, 1),
	}
	r.table = session.NewTable(session.Options{
		Codec:   opts.Codec,
		PLR:     opts.PLR,
		Trigger: opts.Trigger,
		Rand:    opts.Rand,
		Sink:    sink,
	}, r.blockStarted)
	return r
}

func (r *Receiver) blockStarted(b *session.Block) {
	select {
	case r.started <- b:
	default:
		r.log.Warn().Uint16("sbn", b.SBN()).Msg("ack loop behind, block will not be acknowledged")
	}
}

// Dispatch is the channel receive callback. Packets flagged bad by the channel and
// packets too short to parse are dropped here and never reach a session.
func (r *Receiver) Dispatch(ok bool, payload []byte) {
	if !ok {
		metrics.PromRxBad.WithLabelValues("channel").Inc()
		atomic.AddUint64(&r.stats.Malformed, 1)
		utils.DebugLog("[RECEIVER] channel flagged packet bad, %d bytes", len(payload))
		return
	}
	p, err := packet.DecodeData(payload)
	if err != nil {
		metrics.PromRxBad.WithLabelValues("malformed").Inc()
		atomic.AddUint64(&r.stats.Malformed, 1)
		utils.DebugLog("[RECEIVER] %v (%d bytes)", err, len(payload))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.PromRxPackets.Inc()
	atomic.AddUint64(&r.stats.Packets, 1)
	atomic.AddUint64(&r.stats.Bytes, uint64(len(payload)))

	b := r.table.Lookup(p.SBN)
	if b == nil {
		metrics.PromRxBad.WithLabelValues("stale").Inc()
		return
	}
	wasComplete := b.Complete()
	dropped := b.Dropped()
	if err := b.Feed(p); err != nil {
		r.log.Warn().Err(err).Uint16("sbn", p.SBN).Uint16("esi", p.ESI).Msg("packet rejected")
	}
	if b.Dropped() > dropped {
		atomic.AddUint64(&r.stats.Dropped, 1)
	}
	if !wasComplete && b.Complete() {
		r.decodeComplete.Store(true)
		r.blocksDone.Add(1)
		atomic.AddUint64(&r.stats.Blocks, 1)
		select {
		case r.progress <- struct{}{}:
		default:
		}
	}
}

// DecodeComplete reports whether at least one block has been decoded and drained.
func (r *Receiver) DecodeComplete() bool { return r.decodeComplete.Load() }

func (r *Receiver) BlocksDecoded() uint64 { return r.blocksDone.Load() }

// WaitBlocks blocks until n blocks have been decoded or ctx is done.
func (r *Receiver) WaitBlocks(ctx context.Context, n uint64) error {
	for {
		if r.blocksDone.Load() >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.progress:
		}
	}
}

// AckLoop waits for each block to be drained and acknowledges it AckRepeat times. It
// returns when ctx is cancelled.
func (r *Receiver) AckLoop(ctx context.Context) error {
	var cur *session.Block
	for {
		var done <-chan struct{}
		if cur != nil {
			done = cur.Done()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-r.started:
			// предыдущий блок мог завершиться до того, как пришел следующий
			if cur != nil && cur.Complete() {
				if err := r.sendAcks(ctx, cur); err != nil {
					return err
				}
			}
			cur = b
		case <-done:
			if err := r.sendAcks(ctx, cur); err != nil {
				return err
			}
			cur = nil
		}
	}
}

func (r *Receiver) sendAcks(ctx context.Context, b *session.Block) error {
	seen := b.Seen()
	if seen > math.MaxUint16 {
		seen = math.MaxUint16
	}
	ack := packet.EncodeAck(uint16(seen))

	for i := 0; i < r.opts.AckRepeat; i++ {
		if i > 0 && r.opts.AckInterval > 0 {
			t := time.NewTimer(r.opts.AckInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := r.ctrl.Send(ctx, ack); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn().Err(err).Uint16("sbn", b.SBN()).Msg("ack transmit failed")
			continue
		}
		metrics.PromAcksSent.Inc()
		atomic.AddUint64(&r.stats.Acks, 1)
	}
	r.log.Info().Uint16("sbn", b.SBN()).Uint64("tries", seen).Msg("ack sent")
	return nil
}
