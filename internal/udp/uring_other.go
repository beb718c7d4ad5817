//go:build !linux

package udp

func newURingTransmitter(fd int) (transmitter, error) {
	return nil, ErrBackendUnsupported
}
