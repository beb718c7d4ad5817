//go:build linux

package udp

import (
	"fmt"
	"net"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// socketControl tunes the socket before bind: SO_REUSEPORT on request, then the kernel
// buffers. The FORCE variants ignore net.core.[rw]mem_max but need CAP_NET_ADMIN, so an
// EPERM falls back to the plain options.
func socketControl(opts Options, lg zerolog.Logger) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(s uintptr) {
			fd := int(s)
			if opts.ReusePort {
				if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					serr = fmt.Errorf("udp: set SO_REUSEPORT: %w", err)
					return
				}
			}
			if err := setBuffer(fd, unix.SO_RCVBUFFORCE, unix.SO_RCVBUF, opts.ReadBuffer); err != nil {
				lg.Warn().Err(err).Int("bytes", opts.ReadBuffer).Msg("failed to set read buffer")
			}
			if err := setBuffer(fd, unix.SO_SNDBUFFORCE, unix.SO_SNDBUF, opts.WriteBuffer); err != nil {
				lg.Warn().Err(err).Int("bytes", opts.WriteBuffer).Msg("failed to set write buffer")
			}
		})
		if err != nil {
			return err
		}
		return serr
	}
}

func setBuffer(fd, force, plain, size int) error {
	if size <= 0 {
		return nil
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, force, size); err == nil {
		return nil
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, plain, size)
}

// tuneConn only reports the effective sizes, the kernel doubles what was asked for.
func tuneConn(conn *net.UDPConn, _ Options, lg zerolog.Logger) {
	rcv, snd, err := socketBuffers(conn)
	if err != nil {
		lg.Debug().Err(err).Msg("socket buffers unknown")
		return
	}
	lg.Debug().Int("rcvbuf", rcv).Int("sndbuf", snd).Msg("socket buffers")
}

// socketBuffers returns SO_RCVBUF and SO_SNDBUF as the kernel reports them.
func socketBuffers(conn *net.UDPConn) (rcv, snd int, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, err
	}
	var gerr error
	cerr := raw.Control(func(s uintptr) {
		fd := int(s)
		if rcv, gerr = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF); gerr != nil {
			return
		}
		snd, gerr = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
	})
	if cerr != nil {
		return 0, 0, cerr
	}
	return rcv, snd, gerr
}
