package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func sourceChunks(seed int64, k, symLen int) [][]byte {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]byte, k)
	for i := range out {
		out[i] = make([]byte, symLen)
		rng.Read(out[i])
	}
	return out
}

func encodeAll(t *testing.T, name string, chunks [][]byte, budget, extra int) [][]byte {
	t.Helper()
	enc, err := NewEncoder(name)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	if err := enc.Configure(len(chunks), budget, extra); err != nil {
		t.Fatalf("configure: %v", err)
	}
	for _, c := range chunks {
		if err := enc.Feed(c); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	if err := enc.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	n := enc.TotalEncodedCount()
	if n != len(chunks)+budget+extra {
		t.Fatalf("n = %d, want %d", n, len(chunks)+budget+extra)
	}
	var out [][]byte
	for enc.HasMore() {
		s, err := enc.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, s)
	}
	if len(out) != n {
		t.Fatalf("produced %d symbols, want %d", len(out), n)
	}
	return out
}

func decodeWith(t *testing.T, name string, k, n int, symbols [][]byte, lost map[int]bool) ([][]byte, error) {
	t.Helper()
	dec, err := NewDecoder(name)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	if err := dec.Configure(k, n, len(lost)); err != nil {
		t.Fatalf("configure: %v", err)
	}
	for esi, s := range symbols {
		if lost[esi] {
			continue
		}
		if err := dec.Feed(uint16(esi), s); err != nil {
			t.Fatalf("feed %d: %v", esi, err)
		}
	}
	if err := dec.Decode(); err != nil {
		return nil, err
	}
	var out [][]byte
	for dec.HasMore() {
		out = append(out, dec.Next())
	}
	return out, nil
}

func TestNames(t *testing.T) {
	if got := Names(); !reflect.DeepEqual(got, []string{"lt", "raptor", "rs"}) {
		t.Fatalf("names = %v", got)
	}
}

func TestUnknownScheme(t *testing.T) {
	if _, err := NewEncoder("turbo"); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}
	if _, err := NewDecoder("turbo"); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}
}

func TestRoundTripNoLoss(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			chunks := sourceChunks(1, 20, 200)
			symbols := encodeAll(t, name, chunks, 0, 20)
			for i, s := range symbols {
				if len(s) != 200 {
					t.Fatalf("symbol %d has %d bytes", i, len(s))
				}
			}
			got, err := decodeWith(t, name, 20, len(symbols), symbols, nil)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, chunks) {
				t.Fatalf("decoded chunks differ")
			}
		})
	}
}

func TestSystematicSchemes(t *testing.T) {
	for _, name := range []string{"rs", "lt"} {
		t.Run(name, func(t *testing.T) {
			chunks := sourceChunks(2, 10, 64)
			symbols := encodeAll(t, name, chunks, 2, 5)
			for i, c := range chunks {
				if !bytes.Equal(symbols[i], c) {
					t.Fatalf("symbol %d is not the source chunk", i)
				}
			}
		})
	}
}

func TestRaptorRecoversLostSymbols(t *testing.T) {
	chunks := sourceChunks(3, 20, 200)
	symbols := encodeAll(t, "raptor", chunks, 0, 20)
	lost := map[int]bool{0: true, 3: true, 7: true, 19: true}
	got, err := decodeWith(t, "raptor", 20, len(symbols), symbols, lost)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, chunks) {
		t.Fatalf("decoded chunks differ")
	}
}

func TestRaptorBlockLimits(t *testing.T) {
	enc, _ := NewEncoder("raptor")
	if err := enc.Configure(raptorMaxK+1, 0, 20); !errors.Is(err, ErrBlockSize) {
		t.Fatalf("expected ErrBlockSize, got %v", err)
	}
	dec, _ := NewDecoder("raptor")
	if err := dec.Configure(0, 10, 0); !errors.Is(err, ErrBlockSize) {
		t.Fatalf("expected ErrBlockSize, got %v", err)
	}
}

func TestRaptorSingleSymbolBlock(t *testing.T) {
	chunks := sourceChunks(6, 1, 16)
	symbols := encodeAll(t, "raptor", chunks, 0, 5)
	got, err := decodeWith(t, "raptor", 1, len(symbols), symbols, map[int]bool{0: true})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, chunks) {
		t.Fatalf("decoded chunks differ")
	}
}

func TestRSRecoversUpToParity(t *testing.T) {
	chunks := sourceChunks(4, 20, 200)
	symbols := encodeAll(t, "rs", chunks, 0, 20)
	rng := rand.New(rand.NewSource(5))
	lost := make(map[int]bool)
	for _, esi := range rng.Perm(len(symbols))[:20] {
		lost[esi] = true
	}
	got, err := decodeWith(t, "rs", 20, len(symbols), symbols, lost)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, chunks) {
		t.Fatalf("decoded chunks differ")
	}
}

func TestRSNotEnoughThenMore(t *testing.T) {
	chunks := sourceChunks(6, 8, 32)
	symbols := encodeAll(t, "rs", chunks, 0, 4)
	dec, _ := NewDecoder("rs")
	if err := dec.Configure(8, 12, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	for esi := 0; esi < 7; esi++ {
		if err := dec.Feed(uint16(esi+5), symbols[esi+5]); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	if err := dec.Decode(); !errors.Is(err, ErrNotEnoughSymbols) {
		t.Fatalf("expected ErrNotEnoughSymbols, got %v", err)
	}
	if err := dec.Feed(0, symbols[0]); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := dec.Decode(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := 0; dec.HasMore(); i++ {
		if !bytes.Equal(dec.Next(), chunks[i]) {
			t.Fatalf("chunk %d differs", i)
		}
	}
}

func TestRSLargeBlockNeedsAlignedSymbols(t *testing.T) {
	enc, _ := NewEncoder("rs")
	if err := enc.Configure(300, 0, 20); err != nil {
		t.Fatalf("configure: %v", err)
	}
	for _, c := range sourceChunks(7, 300, 200) {
		if err := enc.Feed(c); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	if err := enc.Seal(); !errors.Is(err, ErrBlockSize) {
		t.Fatalf("expected ErrBlockSize, got %v", err)
	}
}

func TestLTRecoversLostSourceSymbol(t *testing.T) {
	chunks := sourceChunks(8, 20, 48)
	symbols := encodeAll(t, "lt", chunks, 0, 60)
	got, err := decodeWith(t, "lt", 20, len(symbols), symbols, map[int]bool{11: true})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, chunks) {
		t.Fatalf("decoded chunks differ")
	}
}

func TestLTNeighboursDeterministic(t *testing.T) {
	a, b := newNeighbours(50), newNeighbours(50)
	for esi := uint16(50); esi < 120; esi++ {
		ma, mb := a.of(esi), b.of(esi)
		if !reflect.DeepEqual(ma, mb) {
			t.Fatalf("esi %d: %v vs %v", esi, ma, mb)
		}
		seen := make(map[int]bool)
		for _, m := range ma {
			if m < 0 || m >= 50 || seen[m] {
				t.Fatalf("esi %d: bad member set %v", esi, ma)
			}
			seen[m] = true
		}
	}
}

func TestLTNotEnoughSymbols(t *testing.T) {
	chunks := sourceChunks(9, 10, 16)
	symbols := encodeAll(t, "lt", chunks, 0, 0)
	if _, err := decodeWith(t, "lt", 10, len(symbols), symbols, map[int]bool{4: true}); !errors.Is(err, ErrNotEnoughSymbols) {
		t.Fatalf("expected ErrNotEnoughSymbols, got %v", err)
	}
}

func TestEncoderMisuse(t *testing.T) {
	enc, _ := NewEncoder("rs")
	if err := enc.Feed([]byte{1}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("feed before configure: %v", err)
	}
	if err := enc.Configure(2, 0, 1); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if _, err := enc.Next(); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("next before seal: %v", err)
	}
	if err := enc.Feed([]byte{1, 2}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := enc.Feed([]byte{1}); !errors.Is(err, ErrSymbolLength) {
		t.Fatalf("short chunk: %v", err)
	}
	if err := enc.Seal(); !errors.Is(err, ErrBlockSize) {
		t.Fatalf("seal with missing chunk: %v", err)
	}
	if err := enc.Feed([]byte{3, 4}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := enc.Feed([]byte{5, 6}); !errors.Is(err, ErrBlockFull) {
		t.Fatalf("feed past k: %v", err)
	}
	if err := enc.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	for enc.HasMore() {
		if _, err := enc.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if _, err := enc.Next(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("next past end: %v", err)
	}
}

func TestConfigureBounds(t *testing.T) {
	enc, _ := NewEncoder("lt")
	if err := enc.Configure(65000, 600, 0); !errors.Is(err, ErrBlockSize) {
		t.Fatalf("expected ErrBlockSize for n > 65535, got %v", err)
	}
	dec, _ := NewDecoder("lt")
	if err := dec.Configure(10, 5, 0); !errors.Is(err, ErrBlockSize) {
		t.Fatalf("expected ErrBlockSize for n < k, got %v", err)
	}
}

func TestDecoderRejectsBadSymbols(t *testing.T) {
	dec, _ := NewDecoder("rs")
	if err := dec.Configure(4, 6, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := dec.Feed(6, []byte{1}); !errors.Is(err, ErrBlockSize) {
		t.Fatalf("esi out of block: %v", err)
	}
	if err := dec.Feed(0, []byte{1, 2}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := dec.Feed(1, []byte{1}); !errors.Is(err, ErrSymbolLength) {
		t.Fatalf("length mismatch: %v", err)
	}
}
