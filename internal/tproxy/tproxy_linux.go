//go:build linux

package tproxy

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/die-net/multiproxy/internal/proxy"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = true

// ListenTransparentTCP listens on addr with IP_TRANSPARENT enabled so the
// socket can also accept connections steered to it by TPROXY rules. This
// requires CAP_NET_ADMIN. Plain REDIRECT rules work with ListenTCP too.
func ListenTransparentTCP(ctx context.Context, addr string, ka net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{Control: func(_, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tproxy %s: %w", addr, err)
	}
	return proxy.WithKeepAlive(ln, ka), nil
}

// OriginalDst returns the destination c was addressed to before NAT.
func OriginalDst(c net.Conn) (netip.AddrPort, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("original dst: %T has no file descriptor", c)
	}
	if ta, ok := c.LocalAddr().(*net.TCPAddr); ok && ta.IP.To4() == nil {
		return netip.AddrPort{}, ErrIPv6Unsupported
	}

	rc, err := sc.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("original dst: %w", err)
	}

	var (
		mreq   *unix.IPv6Mreq
		optErr error
	)
	err = rc.Control(func(fd uintptr) {
		// The kernel fills a sockaddr_in, which fits in the 16-byte
		// multicast address of IPv6Mreq.
		mreq, optErr = unix.GetsockoptIPv6Mreq(int(fd), unix.SOL_IP, unix.SO_ORIGINAL_DST)
	})
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("original dst: %w", err)
	}
	if optErr != nil {
		return netip.AddrPort{}, fmt.Errorf("original dst: getsockopt: %w", optErr)
	}
	return decodeSockaddrInet4(mreq.Multiaddr)
}

// decodeSockaddrInet4 decodes a raw struct sockaddr_in.
func decodeSockaddrInet4(raw [16]byte) (netip.AddrPort, error) {
	if family := binary.NativeEndian.Uint16(raw[0:2]); family != unix.AF_INET {
		return netip.AddrPort{}, fmt.Errorf("original dst: unexpected address family %d", family)
	}
	port := binary.BigEndian.Uint16(raw[2:4])
	addr := netip.AddrFrom4([4]byte(raw[4:8]))
	return netip.AddrPortFrom(addr, port), nil
}
