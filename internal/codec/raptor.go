package codec

import (
	"fmt"

	"github.com/xssnick/raptorq"
)

// RFC 6330 caps a source block at 56403 symbols.
const raptorMaxK = 56403

func raptorCheckK(k int) error {
	if k > raptorMaxK {
		return fmt.Errorf("%w: raptor needs k <= %d, got %d", ErrBlockSize, raptorMaxK, k)
	}
	return nil
}

// raptorEncoder encodes the concatenated chunks as one RaptorQ message of k*T bytes with
// symbol size T. The code is systematic: ESI < k are the source chunks themselves.
type raptorEncoder struct {
	sourceBlock
}

func (e *raptorEncoder) Configure(k, budget, extra int) error {
	if err := raptorCheckK(k); err != nil {
		return err
	}
	return e.configure(k, budget, extra)
}

func (e *raptorEncoder) Seal() error {
	if err := e.ready(); err != nil {
		return err
	}
	msg := make([]byte, 0, e.k*e.symLen)
	for _, c := range e.chunks {
		msg = append(msg, c...)
	}

	enc, err := raptorq.NewRaptorQ(uint32(e.symLen)).CreateEncoder(msg)
	if err != nil {
		return fmt.Errorf("codec: raptor encoder: %w", err)
	}
	if got := int(enc.BaseSymbolsNum()); got != e.k {
		return fmt.Errorf("%w: raptor split the message into %d symbols, want %d", ErrBlockSize, got, e.k)
	}

	e.out = make([][]byte, e.n)
	for i := range e.out {
		b := enc.GenSymbol(uint32(i))
		if len(b) > e.symLen {
			return fmt.Errorf("%w: raptor symbol %d is %d bytes, want %d", ErrSymbolLength, i, len(b), e.symLen)
		}
		sym := make([]byte, e.symLen)
		copy(sym, b)
		e.out[i] = sym
	}
	e.sealed = true
	return nil
}

type raptorDecoder struct {
	recvBlock
	dec  *raptorq.Decoder
	seen map[uint16]struct{}
}

func (d *raptorDecoder) Configure(k, n, expectedLoss int) error {
	if err := raptorCheckK(k); err != nil {
		return err
	}
	if err := d.configure(k, n, expectedLoss); err != nil {
		return err
	}
	d.dec = nil
	d.seen = make(map[uint16]struct{}, n)
	return nil
}

func (d *raptorDecoder) Feed(esi uint16, symbol []byte) error {
	if err := d.check(esi, symbol); err != nil {
		return err
	}
	if _, dup := d.seen[esi]; dup {
		return nil
	}
	// T становится известен только с первым символом
	if d.dec == nil {
		dec, err := raptorq.NewRaptorQ(uint32(d.symLen)).CreateDecoder(uint32(d.k * d.symLen))
		if err != nil {
			return fmt.Errorf("codec: raptor decoder: %w", err)
		}
		d.dec = dec
	}
	if _, err := d.dec.AddSymbol(uint32(esi), append([]byte(nil), symbol...)); err != nil {
		return fmt.Errorf("codec: raptor esi %d: %w", esi, err)
	}
	d.seen[esi] = struct{}{}
	return nil
}

func (d *raptorDecoder) Decode() error {
	if d.dec == nil || len(d.seen) < d.k {
		return ErrNotEnoughSymbols
	}
	ok, msg, err := d.dec.Decode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotEnoughSymbols, err)
	}
	if !ok || len(msg) < d.k*d.symLen {
		return ErrNotEnoughSymbols
	}
	d.decoded = split(msg[:d.k*d.symLen], d.k, d.symLen)
	d.next = 0
	return nil
}
