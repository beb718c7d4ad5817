package udp

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"raptorcast/internal/channel"
)

func openPair(t *testing.T, hold time.Duration) (*Channel, *Channel) {
	t.Helper()
	ctx := context.Background()
	a, err := New(ctx, Options{Listen: "127.0.0.1:0", CarrierHold: hold})
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := New(ctx, Options{Listen: "127.0.0.1:0", Peer: a.LocalAddr().String(), CarrierHold: hold})
	if err != nil {
		a.Close()
		t.Fatalf("open b: %v", err)
	}
	a.SetPeer(b.LocalAddr())
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestChannelDeliversDatagrams(t *testing.T) {
	a, b := openPair(t, 0)

	got := make(chan []byte, 4)
	b.OnReceive(func(ok bool, payload []byte) {
		if !ok {
			t.Errorf("datagram flagged bad")
		}
		got <- payload
	})

	msgs := [][]byte{[]byte("first"), bytes.Repeat([]byte{0xAB}, 1200)}
	for _, m := range msgs {
		if err := a.Transmit(m); err != nil {
			t.Fatalf("transmit: %v", err)
		}
	}
	for i, want := range msgs {
		select {
		case p := <-got:
			if !bytes.Equal(p, want) {
				t.Fatalf("datagram %d differs", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("datagram %d not received", i)
		}
	}

	rx, _ := b.Stats()
	if rx != 2 {
		t.Fatalf("rx = %d, want 2", rx)
	}
	if _, tx := a.Stats(); tx != 2 {
		t.Fatalf("tx = %d, want 2", tx)
	}
}

func TestCarrierHeldAfterReception(t *testing.T) {
	a, b := openPair(t, time.Hour)
	if b.CarrierSensed() {
		t.Fatal("carrier busy before any traffic")
	}

	got := make(chan struct{}, 1)
	b.OnReceive(func(bool, []byte) { got <- struct{}{} })
	if err := a.Transmit([]byte("x")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not received")
	}
	if !b.CarrierSensed() {
		t.Fatal("carrier idle right after reception")
	}
	if a.CarrierSensed() {
		t.Fatal("transmitter sensed its own datagram")
	}
}

func TestTransmitWithoutPeer(t *testing.T) {
	c, err := New(context.Background(), Options{Listen: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Transmit([]byte("x")); err == nil {
		t.Fatal("expected error without peer")
	}
}

func TestCloseStopsChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := New(ctx, Options{Listen: "127.0.0.1:0", Peer: "127.0.0.1:9"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := c.Transmit([]byte("x")); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("transmit after close: %v", err)
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), Options{Listen: "127.0.0.1:0", Backend: "dpdk"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
