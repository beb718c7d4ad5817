// Package session keeps the receiver-side state of one source block: its shape, the
// simulated loss pattern, the decode trigger and the drain of recovered chunks.
package session

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"raptorcast/internal/codec"
	"raptorcast/internal/logging"
	"raptorcast/internal/metrics"
	"raptorcast/internal/packet"
	"raptorcast/internal/utils"
)

type State int32

const (
	Uninitialized State = iota
	Active
	Decoding
	Drained
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Decoding:
		return "decoding"
	case Drained:
		return "drained"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrShapeMismatch = errors.New("session: packet does not match block shape")

// DecodeTrigger returns the ESI whose arrival starts decoding a block of n symbols.
type DecodeTrigger func(n int) int

// DefaultTrigger fires one symbol before the last (N-2), so ESI N-1 is never waited for.
func DefaultTrigger(n int) int { return n - 2 }

// LossCount is the receiver's simulated-loss size for a block: K*PLR/100.
func LossCount(k, plr int) int {
	if k <= 0 || plr <= 0 {
		return 0
	}
	return k * plr / 100
}

// DrawLossSet picks count distinct ESIs uniformly from [1, n-1] and returns them sorted.
// ESI 0 is never chosen. A count above n-1 is capped.
func DrawLossSet(rng *rand.Rand, count, n int) []int {
	if count <= 0 || n < 2 {
		return nil
	}
	if count > n-1 {
		count = n - 1
	}
	picked := make(map[int]struct{}, count)
	out := make([]int, 0, count)
	for len(out) < count {
		esi := 1 + rng.Intn(n-1)
		if _, dup := picked[esi]; dup {
			continue
		}
		picked[esi] = struct{}{}
		out = append(out, esi)
	}
	sort.Ints(out)
	return out
}

type Options struct {
	Codec   string
	PLR     int
	Trigger DecodeTrigger
	Rand    *rand.Rand
	Sink    io.Writer
	Logger  *zerolog.Logger
}

// Block is the receiver session of one SBN. It is not safe for concurrent Feed calls;
// Done, Complete and the counters may be read from any goroutine.
type Block struct {
	sbn  uint16
	opts Options
	log  zerolog.Logger

	state   atomic.Int32
	k, n, t int
	trigger int
	dec     codec.Decoder

	lossCount int
	lossList  []int
	lossSet   map[uint16]struct{}

	seen     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
	written  atomic.Uint64

	done     chan struct{}
	doneOnce sync.Once
	complete atomic.Bool
}

func NewBlock(sbn uint16, opts Options) *Block {
	if opts.Codec == "" {
		opts.Codec = "raptor"
	}
	if opts.Trigger == nil {
		opts.Trigger = DefaultTrigger
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	if opts.Sink == nil {
		opts.Sink = io.Discard
	}
	lg := logging.Component("session")
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	return &Block{
		sbn:  sbn,
		opts: opts,
		log:  lg.With().Uint16("sbn", sbn).Logger(),
		done: make(chan struct{}),
	}
}

func (b *Block) SBN() uint16 { return b.sbn }

func (b *Block) State() State { return State(b.state.Load()) }

func (b *Block) setState(s State) {
	old := State(b.state.Swap(int32(s)))
	if old != s {
		utils.DebugLog("[SESSION] sbn=%d %s -> %s", b.sbn, old, s)
	}
}

// LossSet returns the frozen sorted loss pattern, nil before the first packet.
func (b *Block) LossSet() []int {
	return append([]int(nil), b.lossList...)
}

func (b *Block) LossCount() int { return b.lossCount }

// Seen counts every packet of the block's shape, dropped ones included.
func (b *Block) Seen() uint64 { return b.seen.Load() }

func (b *Block) Received() uint64 { return b.received.Load() }

func (b *Block) Dropped() uint64 { return b.dropped.Load() }

// Written is the number of bytes drained to the sink.
func (b *Block) Written() uint64 { return b.written.Load() }

// Done is closed once the block has been drained.
func (b *Block) Done() <-chan struct{} { return b.done }

func (b *Block) Complete() bool { return b.complete.Load() }

// Feed processes one data packet of this block. Errors are reported for logging only,
// the block stays usable.
func (b *Block) Feed(p *packet.DataPacket) error {
	if p.SBN != b.sbn {
		return fmt.Errorf("%w: sbn %d, block %d", ErrShapeMismatch, p.SBN, b.sbn)
	}
	if b.State() == Uninitialized {
		if err := b.init(p.Header); err != nil {
			b.setState(Failed)
			return err
		}
	}
	if int(p.K) != b.k || int(p.N) != b.n {
		return fmt.Errorf("%w: k=%d n=%d, block k=%d n=%d", ErrShapeMismatch, p.K, p.N, b.k, b.n)
	}
	b.seen.Add(1)

	switch b.State() {
	case Drained:
		return nil
	case Active, Failed:
	default:
		return nil
	}
	if b.dec == nil {
		return fmt.Errorf("session: sbn %d has no decoder", b.sbn)
	}

	var feedErr error
	if _, lost := b.lossSet[p.ESI]; lost {
		b.dropped.Add(1)
		metrics.PromSimulatedDrops.Inc()
		utils.DebugLog("[SESSION] lost packet number: %d", p.ESI)
	} else if err := b.dec.Feed(p.ESI, p.Symbols); err != nil {
		feedErr = fmt.Errorf("session: feed esi %d: %w", p.ESI, err)
	} else {
		b.received.Add(1)
	}

	esi := int(p.ESI)
	switch {
	case b.State() == Active && esi == b.trigger:
		b.decode()
	case b.State() == Failed && esi > b.trigger:
		b.decode()
	}
	return feedErr
}

func (b *Block) init(h packet.Header) error {
	b.k, b.n, b.t = int(h.K), int(h.N), int(h.T)
	b.trigger = b.opts.Trigger(b.n)
	b.lossCount = LossCount(b.k, b.opts.PLR)
	b.lossList = DrawLossSet(b.opts.Rand, b.lossCount, b.n)
	b.lossSet = make(map[uint16]struct{}, len(b.lossList))
	for _, esi := range b.lossList {
		b.lossSet[uint16(esi)] = struct{}{}
	}

	dec, err := codec.NewDecoder(b.opts.Codec)
	if err != nil {
		return err
	}
	if err := dec.Configure(b.k, b.n, b.lossCount); err != nil {
		return fmt.Errorf("session: configure decoder: %w", err)
	}
	b.dec = dec
	b.setState(Active)
	metrics.PromActiveBlock.Set(float64(b.sbn))
	b.log.Info().
		Int("k", b.k).Int("n", b.n).Int("t", b.t).
		Int("loss_count", b.lossCount).Int("trigger", b.trigger).
		Msg("block started")
	return nil
}

// decode runs the codec once and drains every recovered chunk to the sink in order.
func (b *Block) decode() {
	b.setState(Decoding)
	if err := b.dec.Decode(); err != nil {
		metrics.PromDecodes.WithLabelValues("failed").Inc()
		b.log.Warn().Err(err).Uint64("received", b.Received()).Msg("decode failed")
		b.setState(Failed)
		return
	}
	metrics.PromDecodes.WithLabelValues("ok").Inc()

	for b.dec.HasMore() {
		chunk := b.dec.Next()
		n, err := b.opts.Sink.Write(chunk)
		b.written.Add(uint64(n))
		if err != nil {
			b.log.Error().Err(err).Msg("sink write failed")
			break
		}
	}
	b.setState(Drained)
	b.complete.Store(true)
	b.doneOnce.Do(func() { close(b.done) })
	b.log.Info().
		Uint64("received", b.Received()).Uint64("dropped", b.Dropped()).
		Uint64("bytes", b.Written()).
		Msg("decode done")
}

// Table holds the session of the block in progress. Blocks travel in SBN order, so a
// packet for a later SBN replaces the current block and a packet for an earlier one is
// a straggler of a finished or abandoned block.
type Table struct {
	opts    Options
	current *Block
	onStart func(*Block)
	stale   uint64
}

func NewTable(opts Options, onStart func(*Block)) *Table {
	return &Table{opts: opts, onStart: onStart}
}

// Behind reports whether sbn precedes cur in the wrapping uint16 sequence space.
func Behind(sbn, cur uint16) bool { return int16(sbn-cur) < 0 }

// Lookup returns the block for sbn, starting a new one if the SBN moved forward.
// It returns nil for an SBN behind the current block.
func (t *Table) Lookup(sbn uint16) *Block {
	if t.current != nil {
		if t.current.sbn == sbn {
			return t.current
		}
		if Behind(sbn, t.current.sbn) {
			t.stale++
			utils.DebugLog("[SESSION] stale packet sbn=%d, current %d", sbn, t.current.sbn)
			return nil
		}
		if !t.current.Complete() {
			t.current.log.Warn().Uint16("next_sbn", sbn).Msg("block abandoned")
		}
	}
	t.current = NewBlock(sbn, t.opts)
	if t.onStart != nil {
		t.onStart(t.current)
	}
	return t.current
}

func (t *Table) Current() *Block { return t.current }

// Stale counts packets Lookup turned away.
func (t *Table) Stale() uint64 { return t.stale }
