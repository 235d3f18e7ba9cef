package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/multiproxy/internal/connect"
	"github.com/die-net/multiproxy/internal/payload"
	"github.com/die-net/multiproxy/internal/tlshello"
	"github.com/die-net/multiproxy/internal/tproxy"
	"github.com/die-net/multiproxy/internal/upstream"
)

// NewClient is an accepted connection whose destination is known.
type NewClient struct {
	stage
}

// New recovers the original destination of a redirected connection.
func New(conn net.Conn, env *Env) (*NewClient, error) {
	peer := conn.RemoteAddr().String()
	ap, err := tproxy.OriginalDst(conn)
	if err != nil {
		env.Logger().Warn("recover original destination failed",
			zap.String("peer", peer),
			zap.Error(err))
		return nil, fmt.Errorf("recover destination of %s: %w", peer, err)
	}
	return FromDestination(conn, upstream.DestinationFromAddrPort(ap), env), nil
}

// FromDestination wraps a connection whose destination is already known, such
// as one requested over SOCKS.
func FromDestination(conn net.Conn, dest upstream.Destination, env *Env) *NewClient {
	return &NewClient{stage{
		left: conn,
		peer: conn.RemoteAddr().String(),
		dest: dest,
		env:  env,
	}}
}

// ConnectServer tries the servers one at a time without replaying any data.
// nParallel is ignored since nothing was sniffed to prove replays are safe.
func (c *NewClient) ConnectServer(ctx context.Context, _ int) (*ConnectedClient, error) {
	if !c.consume() {
		return nil, ErrConsumed
	}
	return c.connect(ctx, connect.Request{
		Dest:     c.dest,
		List:     c.env.List,
		Parallel: 1,
	})
}

// SniffHello makes one bounded read of the client's first bytes. If they are
// a TLS ClientHello, its server name replaces the destination host and
// parallel attempts become allowed. Timeouts and read errors are not fatal:
// the result then carries no pending data.
func (c *NewClient) SniffHello(ctx context.Context) (*NewClientWithData, error) {
	if !c.consume() {
		return nil, ErrConsumed
	}
	log := c.env.Logger().With(zap.String("peer", c.peer), zap.Stringer("dest", c.dest))

	next := &NewClientWithData{
		stage: stage{left: c.left, peer: c.peer, dest: c.dest, env: c.env},
	}

	buf := make([]byte, c.env.helloBufferSize())
	_ = c.left.SetReadDeadline(time.Now().Add(c.env.helloTimeout()))
	stop := context.AfterFunc(ctx, func() {
		_ = c.left.SetReadDeadline(time.Unix(1, 0))
	})
	n, err := c.left.Read(buf)
	stop()
	_ = c.left.SetReadDeadline(time.Time{})

	if n == 0 {
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			log.Info("no tls request received before timeout")
		default:
			log.Warn("read tls request failed", zap.Error(err))
		}
		return next, nil
	}

	buf = buf[:n]
	next.pending = payload.New(buf)

	hello, err := tlshello.Parse(buf)
	if err != nil {
		log.Info("not a tls client hello", zap.Int("bytes", n), zap.Error(err))
		return next, nil
	}

	next.allowParallel = true
	if hello.ServerName != "" {
		next.dest = c.dest.WithHost(hello.ServerName)
	}
	if hello.EarlyData {
		log.Debug("tls client hello offers early data", zap.String("sni", hello.ServerName))
	}
	return next, nil
}
