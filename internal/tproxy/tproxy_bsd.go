//go:build freebsd || openbsd

package tproxy

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"github.com/die-net/multiproxy/internal/proxy"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = true

// ListenTransparentTCP listens on addr with BINDANY enabled so the socket can
// accept connections redirected by IPFW fwd or PF rdr-to rules. This
// requires root.
func ListenTransparentTCP(ctx context.Context, addr string, ka net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{Control: func(network, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = setBindAny(int(fd), network)
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

// OriginalDst returns the destination c was addressed to. The redirect rules
// preserve it as the local address of the accepted socket.
func OriginalDst(c net.Conn) (netip.AddrPort, error) {
	ta, ok := c.LocalAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("original dst: %T is not a tcp connection", c)
	}
	ap := ta.AddrPort()
	addr := ap.Addr().Unmap()
	if !addr.Is4() {
		return netip.AddrPort{}, ErrIPv6Unsupported
	}
	return netip.AddrPortFrom(addr, ap.Port()), nil
}
