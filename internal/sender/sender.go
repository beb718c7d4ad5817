// Package sender drives the encode side: it cuts the source into blocks of K symbols,
// encodes each block and sends one paced packet per encoded symbol through the access
// controller.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"raptorcast/internal/access"
	"raptorcast/internal/buffer"
	"raptorcast/internal/codec"
	"raptorcast/internal/logging"
	"raptorcast/internal/metrics"
	"raptorcast/internal/packet"
	"raptorcast/internal/utils"
)

var ErrEmptySource = errors.New("sender: empty source")

type Options struct {
	Codec     string
	K         int
	SymbolLen int
	PLR       int
	Extra     int
	SBN       uint16
	Pacing    time.Duration
}

// RedundancyBudget sizes the encoder's repair symbols: (K + K*PLR/100 + 8) * PLR/100.
// It is independent of the receiver's simulated loss count.
func RedundancyBudget(k, plr int) int {
	if k <= 0 || plr <= 0 {
		return 0
	}
	return (k + k*plr/100 + 8) * plr / 100
}

// Partition cuts src into at most k chunks of symLen bytes. The last chunk is zero
// padded; chunking stops early when src runs out.
func Partition(src []byte, k, symLen int) [][]byte {
	if k <= 0 || symLen <= 0 {
		return nil
	}
	var out [][]byte
	for off := 0; off < len(src) && len(out) < k; off += symLen {
		chunk := make([]byte, symLen)
		copy(chunk, src[off:])
		out = append(out, chunk)
	}
	return out
}

// BlockResult describes one sent block.
type BlockResult struct {
	SBN     uint16
	K, N    int
	Budget  int
	Packets int
	Failed  int // пакеты, которые не удалось передать
}

type Sender struct {
	opts    Options
	ctrl    *access.Controller
	limiter *rate.Limiter
	stats   *utils.TransferStats
	log     zerolog.Logger

	acks    atomic.Uint64
	lastAck atomic.Uint32
	acked   chan struct{}
	ackOnce sync.Once
}

// New builds a sender on top of ctrl. stats may be nil.
func New(opts Options, ctrl *access.Controller, stats *utils.TransferStats) *Sender {
	if opts.Codec == "" {
		opts.Codec = "raptor"
	}
	limit := rate.Inf
	if opts.Pacing > 0 {
		limit = rate.Every(opts.Pacing)
	}
	if stats == nil {
		stats = &utils.TransferStats{}
	}
	return &Sender{
		opts:    opts,
		ctrl:    ctrl,
		limiter: rate.NewLimiter(limit, 1),
		stats:   stats,
		log:     logging.Component("sender"),
		acked:   make(chan struct{}),
	}
}

// Run sends src as consecutive blocks of K*T bytes, starting at Options.SBN. Blocks go
// out one after another; a block is never interleaved with the next.
func (s *Sender) Run(ctx context.Context, src []byte) ([]BlockResult, error) {
	if len(src) == 0 {
		return nil, ErrEmptySource
	}
	blockLen := s.opts.K * s.opts.SymbolLen
	if blockLen <= 0 {
		return nil, fmt.Errorf("sender: invalid block shape k=%d t=%d", s.opts.K, s.opts.SymbolLen)
	}

	var results []BlockResult
	sbn := s.opts.SBN
	for off := 0; off < len(src); off += blockLen {
		end := off + blockLen
		if end > len(src) {
			end = len(src)
		}
		res, err := s.SendBlock(ctx, sbn, src[off:end])
		results = append(results, res)
		if err != nil {
			return results, err
		}
		sbn++
	}
	return results, nil
}

// SendBlock encodes one block and transmits every encoded symbol.
func (s *Sender) SendBlock(ctx context.Context, sbn uint16, src []byte) (BlockResult, error) {
	res := BlockResult{SBN: sbn}
	chunks := Partition(src, s.opts.K, s.opts.SymbolLen)
	if len(chunks) == 0 {
		return res, ErrEmptySource
	}

	enc, err := codec.NewEncoder(s.opts.Codec)
	if err != nil {
		return res, err
	}
	res.K = len(chunks)
	res.Budget = RedundancyBudget(res.K, s.opts.PLR)
	if err := enc.Configure(res.K, res.Budget, s.opts.Extra); err != nil {
		return res, fmt.Errorf("sender: configure encoder: %w", err)
	}
	for _, c := range chunks {
		if err := enc.Feed(c); err != nil {
			return res, fmt.Errorf("sender: feed: %w", err)
		}
	}
	if err := enc.Seal(); err != nil {
		return res, fmt.Errorf("sender: encode: %w", err)
	}
	res.N = enc.TotalEncodedCount()

	metrics.PromActiveBlock.Set(float64(sbn))
	s.log.Info().
		Uint16("sbn", sbn).Int("k", res.K).Int("n", res.N).
		Int("budget", res.Budget).Int("t", s.opts.SymbolLen).
		Str("codec", s.opts.Codec).
		Msg("sending block")

	h := packet.Header{SBN: sbn, K: uint16(res.K), N: uint16(res.N), T: uint16(s.opts.SymbolLen)}
	for esi := 0; enc.HasMore(); esi++ {
		sym, err := enc.Next()
		if err != nil {
			return res, fmt.Errorf("sender: next symbol: %w", err)
		}
		h.ESI = uint16(esi)

		fr := buffer.GetFrame()
		frame := fr.Encode(func(dst []byte) []byte { return packet.AppendData(dst, h, sym) })
		err = s.ctrl.Send(ctx, frame)
		size := len(frame)
		fr.Release()
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			s.log.Warn().Err(err).Int("esi", esi).Msg("transmit failed")
			continue
		}

		res.Packets++
		metrics.PromTxPackets.Inc()
		metrics.PromTxBytes.Add(float64(size))
		atomic.AddUint64(&s.stats.Packets, 1)
		atomic.AddUint64(&s.stats.Bytes, uint64(size))
		utils.DebugLog("[SENDER] sbn=%d esi=%d sent %d bytes", sbn, esi, size)
		if err := s.pace(ctx); err != nil {
			return res, err
		}
	}
	atomic.AddUint64(&s.stats.Blocks, 1)
	s.log.Info().Uint16("sbn", sbn).Int("packets", res.Packets).Int("failed", res.Failed).Msg("block sent")
	return res, nil
}

// pace holds the caller until Pacing has passed since the transmission that just ended.
// The bucket is emptied first, so time spent in carrier backoff never shortens the gap.
func (s *Sender) pace(ctx context.Context) error {
	if s.opts.Pacing <= 0 {
		return nil
	}
	now := time.Now()
	s.limiter.SetBurstAt(now, 0)
	s.limiter.SetBurstAt(now, 1)
	return s.limiter.Wait(ctx)
}

// HandleAck is the channel receive callback of the sender. Acks only feed diagnostics.
func (s *Sender) HandleAck(ok bool, payload []byte) {
	if !ok {
		metrics.PromRxBad.WithLabelValues("channel").Inc()
		return
	}
	counter, err := packet.DecodeAck(payload)
	if err != nil {
		metrics.PromRxBad.WithLabelValues("ack").Inc()
		utils.DebugLog("[SENDER] not an ack: %v (%d bytes)", err, len(payload))
		return
	}
	s.acks.Add(1)
	s.lastAck.Store(uint32(counter))
	atomic.AddUint64(&s.stats.Acks, 1)
	metrics.PromAcksReceived.Inc()
	s.log.Info().Uint16("tries", counter).Msg("ack received")
	s.ackOnce.Do(func() { close(s.acked) })
}

func (s *Sender) Acks() uint64 { return s.acks.Load() }

// LastAck returns the counter carried by the most recent ack.
func (s *Sender) LastAck() uint16 { return uint16(s.lastAck.Load()) }

// Acked is closed when the first ack arrives.
func (s *Sender) Acked() <-chan struct{} { return s.acked }
