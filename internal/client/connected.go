package client

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/die-net/multiproxy/internal/proxy"
	"github.com/die-net/multiproxy/internal/upstream"
)

// ConnectedClient is a client bridged to a chosen upstream server.
type ConnectedClient struct {
	stage
	right  net.Conn
	server *upstream.Server
	// sent counts sniffed bytes the connector already replayed upstream.
	sent int64
}

// Server returns the upstream server carrying the connection.
func (c *ConnectedClient) Server() *upstream.Server { return c.server }

// Serve copies bytes both ways until the connection ends, then closes both
// sockets. The server's open and close counters are each bumped exactly once.
func (c *ConnectedClient) Serve(ctx context.Context) error {
	if !c.consume() {
		return ErrConsumed
	}
	log := c.env.Logger().With(
		zap.String("peer", c.peer),
		zap.Stringer("dest", c.dest),
		zap.String("server", c.server.Tag))

	for _, conn := range []net.Conn{c.left, c.right} {
		if err := setKeepAlive(conn, c.env.keepAlive()); err != nil {
			log.Warn("set tcp keepalive failed", zap.Error(err))
		}
	}

	c.server.ConnOpened()
	c.server.AddTx(c.sent)
	tx, rx, err := proxy.Pipe(ctx, c.left, c.right, c.server, c.env.pool())
	c.server.ConnClosed()
	tx += c.sent

	if err != nil {
		log.Warn("pipe failed", zap.Int64("tx", tx), zap.Int64("rx", rx), zap.Error(err))
		return ErrPipe
	}
	log.Debug("connection closed", zap.Int64("tx", tx), zap.Int64("rx", rx))
	return nil
}

type keepAliveSetter interface {
	SetKeepAliveConfig(net.KeepAliveConfig) error
}

// setKeepAlive applies ka to conn or the first wrapped conn that supports
// it. Conns without TCP underneath are left alone.
func setKeepAlive(conn net.Conn, ka net.KeepAliveConfig) error {
	for conn != nil {
		if s, ok := conn.(keepAliveSetter); ok {
			return s.SetKeepAliveConfig(ka)
		}
		switch u := conn.(type) {
		case interface{ Unwrap() net.Conn }:
			conn = u.Unwrap()
		case interface{ NetConn() net.Conn }:
			conn = u.NetConn()
		default:
			return nil
		}
	}
	return nil
}
