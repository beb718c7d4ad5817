package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Above 256 shards reedsolomon switches to Leopard GF(2^16), which needs shard sizes
// that are a multiple of 64.
const (
	rsMaxGF8Shards  = 256
	rsGF16ShardUnit = 64
)

func rsCheckShape(total, symLen int) error {
	if total > rsMaxGF8Shards && symLen%rsGF16ShardUnit != 0 {
		return fmt.Errorf("%w: rs with %d shards needs symbol length multiple of %d, got %d",
			ErrBlockSize, total, rsGF16ShardUnit, symLen)
	}
	return nil
}

// rsEncoder is a systematic Reed-Solomon block code: ESI < k carry the source chunks,
// the rest carry parity shards.
type rsEncoder struct {
	sourceBlock
}

func (e *rsEncoder) Configure(k, budget, extra int) error {
	return e.configure(k, budget, extra)
}

func (e *rsEncoder) Seal() error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := rsCheckShape(e.n, e.symLen); err != nil {
		return err
	}

	shards := make([][]byte, e.n)
	copy(shards, e.chunks)
	for i := e.k; i < e.n; i++ {
		shards[i] = make([]byte, e.symLen)
	}
	if e.n > e.k {
		enc, err := reedsolomon.New(e.k, e.n-e.k)
		if err != nil {
			return fmt.Errorf("reedsolomon init: %w", err)
		}
		if err := enc.Encode(shards); err != nil {
			return fmt.Errorf("rs encode: %w", err)
		}
	}
	e.out = shards
	e.sealed = true
	return nil
}

type rsDecoder struct {
	recvBlock
	shards  [][]byte
	present int
}

func (d *rsDecoder) Configure(k, n, expectedLoss int) error {
	if err := d.configure(k, n, expectedLoss); err != nil {
		return err
	}
	d.shards = make([][]byte, n)
	d.present = 0
	return nil
}

func (d *rsDecoder) Feed(esi uint16, symbol []byte) error {
	if err := d.check(esi, symbol); err != nil {
		return err
	}
	if d.shards[esi] != nil {
		return nil
	}
	d.shards[esi] = append([]byte(nil), symbol...)
	d.present++
	return nil
}

func (d *rsDecoder) Decode() error {
	if d.shards == nil {
		return ErrNotConfigured
	}
	if d.present < d.k {
		return ErrNotEnoughSymbols
	}
	if err := rsCheckShape(d.n, d.symLen); err != nil {
		return err
	}

	if d.n > d.k {
		enc, err := reedsolomon.New(d.k, d.n-d.k)
		if err != nil {
			return fmt.Errorf("reedsolomon init: %w", err)
		}
		// reconstruction fills the nil slots, work on a copy so a failure keeps the
		// received set intact
		work := make([][]byte, d.n)
		copy(work, d.shards)
		if err := enc.ReconstructData(work); err != nil {
			if errors.Is(err, reedsolomon.ErrTooFewShards) {
				return ErrNotEnoughSymbols
			}
			return fmt.Errorf("rs reconstruct: %w", err)
		}
		d.decoded = work[:d.k]
	} else {
		d.decoded = d.shards[:d.k]
	}
	d.next = 0
	return nil
}
