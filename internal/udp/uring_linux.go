//go:build linux

package udp

import (
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/iceber/iouring-go"
)

const uringEntries = 64

// uringTransmitter отправляет датаграмы через io_uring sendmsg
// Канал полудуплексный, поэтому запросы идут строго по одному
type uringTransmitter struct {
	mu     sync.Mutex
	fd     int
	ring   *iouring.IOURing
	result chan iouring.Result
}

func newURingTransmitter(fd int) (transmitter, error) {
	ring, err := iouring.New(uringEntries)
	if err != nil {
		return nil, fmt.Errorf("io_uring init: %w", err)
	}
	return &uringTransmitter{
		fd:     fd,
		ring:   ring,
		result: make(chan iouring.Result, 1),
	}, nil
}

func sockaddr(addr *net.UDPAddr) syscall.Sockaddr {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &syscall.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := &syscall.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa
}

func (u *uringTransmitter) transmit(b []byte, peer *net.UDPAddr) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	prep, err := iouring.Sendmsg(u.fd, b, nil, sockaddr(peer), 0)
	if err != nil {
		return 0, err
	}
	if _, err := u.ring.SubmitRequest(prep, u.result); err != nil {
		return 0, fmt.Errorf("io_uring submit: %w", err)
	}
	res := <-u.result
	return res.ReturnInt()
}

func (u *uringTransmitter) close() error {
	return u.ring.Close()
}
