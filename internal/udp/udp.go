// Package udp runs the packet channel over a UDP socket. The socket is half-duplex only
// by convention: carrier sense reports busy while the peer has been heard recently.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"raptorcast/internal/channel"
	"raptorcast/internal/logging"
	"raptorcast/internal/utils"
)

const (
	BackendStd     = "std"
	BackendIOURing = "io_uring"

	maxDatagram = 64 * 1024
)

var (
	ErrBackendUnsupported   = errors.New("udp: transmit backend not supported on this platform")
	ErrReusePortUnsupported = errors.New("udp: SO_REUSEPORT not supported on this platform")
)

type Options struct {
	Listen      string // локальный адрес, пустой = любой порт
	Peer        string // адрес второй стороны
	CarrierHold time.Duration
	Backend     string
	ReadBuffer  int
	WriteBuffer int
	ReusePort   bool // несколько приемников на одном порту
}

// transmitter пишет один датаграм в peer
type transmitter interface {
	transmit(b []byte, peer *net.UDPAddr) (int, error)
	close() error
}

// Channel implements channel.Channel over one UDP socket.
type Channel struct {
	conn *net.UDPConn
	fd   int // fd сокета, валиден пока открыт conn
	tx   transmitter
	log  zerolog.Logger

	peer atomic.Pointer[net.UDPAddr]
	hold time.Duration

	mu   sync.Mutex
	recv channel.ReceiveFunc

	lastRx atomic.Int64 // unix nanos последнего принятого датаграма
	rxPkts atomic.Uint64
	txPkts atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed int32
}

var _ channel.Channel = (*Channel)(nil)

// New opens the socket and starts the read loop. The loop stops when ctx is cancelled
// or Close is called.
func New(ctx context.Context, opts Options) (*Channel, error) {
	if opts.Backend == "" {
		opts.Backend = BackendStd
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = 4 << 20
	}
	if opts.WriteBuffer <= 0 {
		opts.WriteBuffer = 4 << 20
	}

	listen := opts.Listen
	if listen == "" {
		listen = ":0"
	}
	lg := logging.Component("udp")
	lc := net.ListenConfig{Control: socketControl(opts, lg)}
	pc, err := lc.ListenPacket(ctx, "udp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", listen, err)
	}
	conn := pc.(*net.UDPConn)
	tuneConn(conn, opts, lg)

	// conn.File() переводит сокет в блокирующий режим, берем fd через RawConn
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("udp socket fd: %w", err)
	}
	fd := -1
	raw.Control(func(s uintptr) { fd = int(s) })

	c := &Channel{
		conn: conn,
		fd:   fd,
		hold: opts.CarrierHold,
		log:  lg,
	}

	switch opts.Backend {
	case BackendStd:
		c.tx = stdTransmitter{conn: conn}
	case BackendIOURing:
		tx, err := newURingTransmitter(fd)
		if err != nil {
			conn.Close()
			return nil, err
		}
		c.tx = tx
	default:
		conn.Close()
		return nil, fmt.Errorf("udp: unknown backend %q", opts.Backend)
	}

	if opts.Peer != "" {
		raddr, err := net.ResolveUDPAddr("udp", opts.Peer)
		if err != nil {
			c.tx.close()
			conn.Close()
			return nil, fmt.Errorf("resolve peer addr %s: %w", opts.Peer, err)
		}
		c.peer.Store(raddr)
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.readLoop()

	lg.Info().
		Str("local", conn.LocalAddr().String()).
		Str("peer", opts.Peer).
		Str("backend", opts.Backend).
		Msg("UDP channel open")
	return c, nil
}

func (c *Channel) LocalAddr() *net.UDPAddr { return c.conn.LocalAddr().(*net.UDPAddr) }

// SetPeer changes the destination of Transmit.
func (c *Channel) SetPeer(addr *net.UDPAddr) { c.peer.Store(addr) }

func (c *Channel) OnReceive(fn channel.ReceiveFunc) {
	c.mu.Lock()
	c.recv = fn
	c.mu.Unlock()
}

// CarrierSensed reports busy for CarrierHold after the last received datagram.
func (c *Channel) CarrierSensed() bool {
	if c.hold <= 0 {
		return false
	}
	last := c.lastRx.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < c.hold
}

func (c *Channel) Transmit(payload []byte) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return channel.ErrClosed
	}
	peer := c.peer.Load()
	if peer == nil {
		return errors.New("udp: no peer address")
	}
	n, err := c.tx.transmit(payload, peer)
	if err != nil {
		return fmt.Errorf("udp transmit: %w", err)
	}
	if n != len(payload) {
		return fmt.Errorf("udp transmit: short write %d of %d", n, len(payload))
	}
	c.txPkts.Add(1)
	return nil
}

// readLoop читает датаграмы и отдает их колбэку до отмены контекста
func (c *Channel) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, maxDatagram)

	go func() {
		<-c.ctx.Done()
		// разблокирует ReadFromUDP
		c.conn.SetReadDeadline(time.Now())
	}()

	for {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				utils.DebugLog("[UDP] read loop exiting: %v", err)
				return
			}
			c.log.Warn().Err(err).Msg("read error")
			continue
		}
		c.lastRx.Store(time.Now().UnixNano())
		c.rxPkts.Add(1)
		utils.DebugLog("[UDP] received %d bytes from %v", n, from)

		c.mu.Lock()
		fn := c.recv
		c.mu.Unlock()
		if fn == nil {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		// UDP checksum already rejected corrupt datagrams
		fn(true, payload)
	}
}

// Stats returns datagram counts in both directions.
func (c *Channel) Stats() (rx, tx uint64) { return c.rxPkts.Load(), c.txPkts.Load() }

// Close stops the read loop and releases the socket.
func (c *Channel) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		c.log.Warn().Msg("timeout waiting for read loop")
	}

	var errs []error
	if err := c.tx.close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type stdTransmitter struct {
	conn *net.UDPConn
}

func (s stdTransmitter) transmit(b []byte, peer *net.UDPAddr) (int, error) {
	return s.conn.WriteToUDP(b, peer)
}

func (stdTransmitter) close() error { return nil }
