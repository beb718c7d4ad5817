// Package codec provides the erasure codes behind the protocol: an Encoder turns K
// fixed-length source chunks into N encoded symbols, a Decoder recovers the chunks from
// any sufficient subset of them, keyed by encoded symbol index (ESI).
//
// Schemes are selected by name: "raptor" (default), "rs" and "lt".
package codec

import (
	"errors"
	"fmt"
	"sort"
)

// MaxSymbols bounds N, the ESI field is 16 bits wide.
const MaxSymbols = 65535

var (
	ErrUnknownScheme    = errors.New("codec: unknown scheme")
	ErrNotConfigured    = errors.New("codec: not configured")
	ErrBlockSize        = errors.New("codec: unsupported block size")
	ErrSymbolLength     = errors.New("codec: symbol length mismatch")
	ErrBlockFull        = errors.New("codec: block already holds k source symbols")
	ErrNotSealed        = errors.New("codec: encoder not sealed")
	ErrExhausted        = errors.New("codec: no more encoded symbols")
	ErrNotEnoughSymbols = errors.New("codec: not enough symbols to decode")
)

type Encoder interface {
	// Configure starts a new block of k source symbols. The encoder will produce
	// k + budget + extra symbols.
	Configure(k, budget, extra int) error
	// Feed appends one source chunk. All chunks of a block share one length.
	Feed(chunk []byte) error
	// Seal builds the encoded symbols once all k chunks are fed.
	Seal() error
	TotalEncodedCount() int
	HasMore() bool
	Next() ([]byte, error)
}

type Decoder interface {
	Configure(k, n, expectedLoss int) error
	Feed(esi uint16, symbol []byte) error
	// Decode tries to recover the block. ErrNotEnoughSymbols leaves the decoder usable,
	// more symbols can be fed and Decode called again.
	Decode() error
	HasMore() bool
	Next() []byte
}

type scheme struct {
	newEncoder func() Encoder
	newDecoder func() Decoder
}

var schemes = map[string]scheme{
	"raptor": {
		newEncoder: func() Encoder { return &raptorEncoder{} },
		newDecoder: func() Decoder { return &raptorDecoder{} },
	},
	"rs": {
		newEncoder: func() Encoder { return &rsEncoder{} },
		newDecoder: func() Decoder { return &rsDecoder{} },
	},
	"lt": {
		newEncoder: func() Encoder { return &ltEncoder{} },
		newDecoder: func() Decoder { return &ltDecoder{} },
	},
}

func NewEncoder(name string) (Encoder, error) {
	s, ok := schemes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
	return s.newEncoder(), nil
}

func NewDecoder(name string) (Decoder, error) {
	s, ok := schemes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
	return s.newDecoder(), nil
}

// Names lists the registered schemes.
func Names() []string {
	out := make([]string, 0, len(schemes))
	for name := range schemes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// sourceBlock is the encoder-side bookkeeping shared by every scheme.
type sourceBlock struct {
	k, n   int
	symLen int
	chunks [][]byte

	sealed bool
	out    [][]byte
	next   int
}

func (b *sourceBlock) configure(k, budget, extra int) error {
	if k <= 0 || budget < 0 || extra < 0 {
		return fmt.Errorf("%w: k=%d budget=%d extra=%d", ErrBlockSize, k, budget, extra)
	}
	n := k + budget + extra
	if n > MaxSymbols {
		return fmt.Errorf("%w: n=%d exceeds %d", ErrBlockSize, n, MaxSymbols)
	}
	*b = sourceBlock{k: k, n: n, chunks: make([][]byte, 0, k)}
	return nil
}

func (b *sourceBlock) Feed(chunk []byte) error {
	if b.k == 0 {
		return ErrNotConfigured
	}
	if len(b.chunks) == b.k {
		return ErrBlockFull
	}
	if len(chunk) == 0 {
		return fmt.Errorf("%w: empty chunk", ErrSymbolLength)
	}
	if b.symLen == 0 {
		b.symLen = len(chunk)
	}
	if len(chunk) != b.symLen {
		return fmt.Errorf("%w: got %d, want %d", ErrSymbolLength, len(chunk), b.symLen)
	}
	b.chunks = append(b.chunks, append([]byte(nil), chunk...))
	return nil
}

func (b *sourceBlock) ready() error {
	if b.k == 0 {
		return ErrNotConfigured
	}
	if len(b.chunks) != b.k {
		return fmt.Errorf("%w: fed %d of %d chunks", ErrBlockSize, len(b.chunks), b.k)
	}
	return nil
}

func (b *sourceBlock) TotalEncodedCount() int { return b.n }

func (b *sourceBlock) HasMore() bool { return b.sealed && b.next < len(b.out) }

func (b *sourceBlock) Next() ([]byte, error) {
	if !b.sealed {
		return nil, ErrNotSealed
	}
	if b.next >= len(b.out) {
		return nil, ErrExhausted
	}
	s := b.out[b.next]
	b.next++
	return s, nil
}

// recvBlock is the decoder-side bookkeeping shared by every scheme.
type recvBlock struct {
	k, n         int
	expectedLoss int
	symLen       int

	decoded [][]byte
	next    int
}

func (b *recvBlock) configure(k, n, expectedLoss int) error {
	if k <= 0 || n < k || n > MaxSymbols {
		return fmt.Errorf("%w: k=%d n=%d", ErrBlockSize, k, n)
	}
	*b = recvBlock{k: k, n: n, expectedLoss: expectedLoss}
	return nil
}

// check validates one incoming symbol and fixes the symbol length on first use.
func (b *recvBlock) check(esi uint16, symbol []byte) error {
	if b.k == 0 {
		return ErrNotConfigured
	}
	if int(esi) >= b.n {
		return fmt.Errorf("%w: esi %d outside block of %d", ErrBlockSize, esi, b.n)
	}
	if len(symbol) == 0 {
		return fmt.Errorf("%w: empty symbol", ErrSymbolLength)
	}
	if b.symLen == 0 {
		b.symLen = len(symbol)
	}
	if len(symbol) != b.symLen {
		return fmt.Errorf("%w: got %d, want %d", ErrSymbolLength, len(symbol), b.symLen)
	}
	return nil
}

func (b *recvBlock) HasMore() bool { return b.next < len(b.decoded) }

func (b *recvBlock) Next() []byte {
	if b.next >= len(b.decoded) {
		return nil
	}
	s := b.decoded[b.next]
	b.next++
	return s
}

// split cuts a recovered message into k chunks of symLen bytes.
func split(msg []byte, k, symLen int) [][]byte {
	out := make([][]byte, k)
	for i := range out {
		out[i] = msg[i*symLen : (i+1)*symLen]
	}
	return out
}
