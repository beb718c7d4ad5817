package channel

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu   sync.Mutex
	got  [][]byte
	oks  []bool
	done chan struct{}
	want int
}

func newCollector(want int) *collector {
	return &collector{done: make(chan struct{}), want: want}
}

func (c *collector) receive(ok bool, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, payload)
	c.oks = append(c.oks, ok)
	if len(c.got) == c.want {
		close(c.done)
	}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %d packets", c.want)
	}
}

func TestLoopbackDeliversInOrder(t *testing.T) {
	a, b := NewLoopback(), NewLoopback()
	Link(a, b)
	defer a.Close()
	defer b.Close()

	c := newCollector(100)
	b.OnReceive(c.receive)
	for i := 0; i < 100; i++ {
		if err := a.Transmit([]byte{byte(i)}); err != nil {
			t.Fatalf("transmit: %v", err)
		}
	}
	c.wait(t)
	for i, p := range c.got {
		if !bytes.Equal(p, []byte{byte(i)}) || !c.oks[i] {
			t.Fatalf("packet %d = %v ok=%v", i, p, c.oks[i])
		}
	}
}

func TestLoopbackCopiesPayload(t *testing.T) {
	a, b := NewLoopback(), NewLoopback()
	Link(a, b)
	defer a.Close()
	defer b.Close()

	c := newCollector(1)
	b.OnReceive(c.receive)
	buf := []byte{1, 2, 3}
	if err := a.Transmit(buf); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	buf[0] = 9
	c.wait(t)
	if c.got[0][0] != 1 {
		t.Fatalf("payload aliased the sender buffer")
	}
}

func TestLoopbackDropAll(t *testing.T) {
	a, b := NewLoopback(WithDropRate(1)), NewLoopback()
	Link(a, b)
	defer a.Close()
	defer b.Close()

	var mu sync.Mutex
	n := 0
	b.OnReceive(func(bool, []byte) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	for i := 0; i < 10; i++ {
		if err := a.Transmit([]byte{1}); err != nil {
			t.Fatalf("transmit: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if n != 0 {
		t.Fatalf("received %d packets with drop rate 1", n)
	}
	if got := a.Dropped(); got != 10 {
		t.Fatalf("Dropped() = %d, want 10", got)
	}
}

func TestLoopbackCorruptFlag(t *testing.T) {
	a, b := NewLoopback(WithCorruptRate(1)), NewLoopback()
	Link(a, b)
	defer a.Close()
	defer b.Close()

	c := newCollector(1)
	b.OnReceive(c.receive)
	if err := a.Transmit([]byte{1}); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	c.wait(t)
	if c.oks[0] {
		t.Fatalf("expected ok=false")
	}
}

func TestLoopbackCarrier(t *testing.T) {
	busy := true
	l := NewLoopback(WithCarrier(func() bool { return busy }))
	defer l.Close()
	if !l.CarrierSensed() {
		t.Fatalf("expected carrier")
	}
	busy = false
	if l.CarrierSensed() {
		t.Fatalf("expected idle")
	}
	idle := NewLoopback()
	defer idle.Close()
	if idle.CarrierSensed() {
		t.Fatalf("default carrier should be idle")
	}
}

func TestLoopbackClosed(t *testing.T) {
	a, b := NewLoopback(), NewLoopback()
	Link(a, b)
	b.Close()
	if err := a.Transmit([]byte{1}); err != nil && !errors.Is(err, ErrClosed) {
		t.Fatalf("unexpected error: %v", err)
	}
	a.Close()
	if err := a.Transmit([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestLoopbackUnlinked(t *testing.T) {
	l := NewLoopback()
	defer l.Close()
	if err := l.Transmit([]byte{1}); err == nil {
		t.Fatalf("expected error on unlinked endpoint")
	}
}
