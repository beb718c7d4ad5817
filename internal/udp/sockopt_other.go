//go:build !linux

package udp

import (
	"net"
	"syscall"

	"github.com/rs/zerolog"
)

func socketControl(opts Options, _ zerolog.Logger) func(network, address string, c syscall.RawConn) error {
	if !opts.ReusePort {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		return ErrReusePortUnsupported
	}
}

func tuneConn(conn *net.UDPConn, opts Options, lg zerolog.Logger) {
	if err := conn.SetReadBuffer(opts.ReadBuffer); err != nil {
		lg.Warn().Err(err).Msg("failed to set read buffer")
	}
	if err := conn.SetWriteBuffer(opts.WriteBuffer); err != nil {
		lg.Warn().Err(err).Msg("failed to set write buffer")
	}
}
