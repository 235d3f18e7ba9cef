package proxy

import (
	"context"
	"fmt"
	"net"
)

// ListenTCP opens a TCP listener whose accepted conns get ka applied.
func ListenTCP(ctx context.Context, network, addr string, ka net.KeepAliveConfig) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}
	return WithKeepAlive(ln, ka), nil
}

// WithKeepAlive wraps ln so every accepted TCP conn gets ka applied,
// overriding the runtime's default keep-alive settings.
func WithKeepAlive(ln net.Listener, ka net.KeepAliveConfig) net.Listener {
	return &keepAliveListener{Listener: ln, ka: ka}
}

type keepAliveListener struct {
	net.Listener
	ka net.KeepAliveConfig
}

func (l *keepAliveListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		// Best effort: a conn that refuses keep-alive is still served.
		_ = tc.SetKeepAliveConfig(l.ka)
	}
	return c, nil
}
