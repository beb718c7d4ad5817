package codec

import (
	"encoding/binary"
	"math/rand"

	"github.com/dchest/siphash"
	"github.com/yangl1996/soliton"
)

// Robust soliton parameters.
const (
	ltC     = 0.03
	ltDelta = 0.5
)

// Fixed siphash key; both ends must derive the same neighbour sets from an ESI.
const (
	ltKey0 uint64 = 0x7261707472636173
	ltKey1 uint64 = 0x742d6c742d76310a
)

// neighbours maps a repair ESI to the set of source indices XORed into it. The degree
// is drawn from a robust soliton distribution over k, the members uniformly without
// replacement, all from one rng reseeded per ESI.
type neighbours struct {
	k    int
	rng  *rand.Rand
	dist *soliton.Soliton
	buf  [2]byte
}

func newNeighbours(k int) *neighbours {
	rng := rand.New(rand.NewSource(0))
	return &neighbours{
		k:    k,
		rng:  rng,
		dist: soliton.NewRobustSoliton(rng, uint64(k), ltC, ltDelta),
	}
}

func (nb *neighbours) of(esi uint16) []int {
	binary.BigEndian.PutUint16(nb.buf[:], esi)
	nb.rng.Seed(int64(siphash.Hash(ltKey0, ltKey1, nb.buf[:])))

	deg := int(nb.dist.Uint64())
	if deg < 1 {
		deg = 1
	}
	if deg > nb.k {
		deg = nb.k
	}
	members := make([]int, 0, deg)
	picked := make(map[int]struct{}, deg)
	for len(members) < deg {
		m := nb.rng.Intn(nb.k)
		if _, dup := picked[m]; dup {
			continue
		}
		picked[m] = struct{}{}
		members = append(members, m)
	}
	return members
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// ltEncoder is a systematic LT code: ESI < k are the source chunks, ESI >= k XOR a
// soliton-sized subset of them.
type ltEncoder struct {
	sourceBlock
}

func (e *ltEncoder) Configure(k, budget, extra int) error {
	return e.configure(k, budget, extra)
}

func (e *ltEncoder) Seal() error {
	if err := e.ready(); err != nil {
		return err
	}
	nb := newNeighbours(e.k)
	e.out = make([][]byte, e.n)
	copy(e.out, e.chunks)
	for esi := e.k; esi < e.n; esi++ {
		sym := make([]byte, e.symLen)
		for _, m := range nb.of(uint16(esi)) {
			xorInto(sym, e.chunks[m])
		}
		e.out[esi] = sym
	}
	e.sealed = true
	return nil
}

type ltRow struct {
	members []int
	data    []byte
}

// reduce XORs out every member that is already known.
func (r *ltRow) reduce(known [][]byte) {
	rest := r.members[:0]
	for _, m := range r.members {
		if known[m] != nil {
			xorInto(r.data, known[m])
			continue
		}
		rest = append(rest, m)
	}
	r.members = rest
}

// ltDecoder is a peeling decoder. Source symbols are stored directly; repair symbols wait
// in pending until all but one of their members are known.
type ltDecoder struct {
	recvBlock
	nb      *neighbours
	known   [][]byte
	nKnown  int
	pending []*ltRow
	seen    map[uint16]struct{}
}

func (d *ltDecoder) Configure(k, n, expectedLoss int) error {
	if err := d.configure(k, n, expectedLoss); err != nil {
		return err
	}
	d.nb = newNeighbours(k)
	d.known = make([][]byte, k)
	d.nKnown = 0
	d.pending = nil
	d.seen = make(map[uint16]struct{}, n)
	return nil
}

func (d *ltDecoder) Feed(esi uint16, symbol []byte) error {
	if err := d.check(esi, symbol); err != nil {
		return err
	}
	if _, dup := d.seen[esi]; dup {
		return nil
	}
	d.seen[esi] = struct{}{}

	data := append([]byte(nil), symbol...)
	if int(esi) < d.k {
		if d.known[esi] == nil {
			d.known[esi] = data
			d.nKnown++
		}
		return nil
	}
	d.pending = append(d.pending, &ltRow{members: d.nb.of(esi), data: data})
	return nil
}

func (d *ltDecoder) peel() {
	for progress := true; progress && d.nKnown < d.k; {
		progress = false
		rest := d.pending[:0]
		for _, r := range d.pending {
			r.reduce(d.known)
			switch len(r.members) {
			case 0:
				// fully covered by known symbols
			case 1:
				if m := r.members[0]; d.known[m] == nil {
					d.known[m] = r.data
					d.nKnown++
					progress = true
				}
			default:
				rest = append(rest, r)
			}
		}
		for i := len(rest); i < len(d.pending); i++ {
			d.pending[i] = nil
		}
		d.pending = rest
	}
}

func (d *ltDecoder) Decode() error {
	if d.known == nil {
		return ErrNotConfigured
	}
	d.peel()
	if d.nKnown < d.k {
		return ErrNotEnoughSymbols
	}
	d.decoded = d.known
	d.next = 0
	return nil
}
