// Package connect races connection attempts to a destination across the
// candidate upstream servers and returns the first that works.
package connect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/multiproxy/internal/payload"
	"github.com/die-net/multiproxy/internal/upstream"
)

// ErrAllFailed is returned when no candidate server produced a connection.
var ErrAllFailed = errors.New("connect: all servers failed")

// Request describes one client's connection attempt.
type Request struct {
	Dest upstream.Destination
	List *upstream.ServerList
	// Parallel is the number of attempts kept in flight, clamped to
	// [1, List.Len()].
	Parallel int
	// WaitResponse makes an attempt succeed only once the server answered
	// the replayed Payload. It has no effect when Payload is empty.
	WaitResponse bool
	// Payload is written to every attempt before it can win. Attempts share
	// the bytes without copying.
	Payload payload.Shared
}

// Connector races attempts. The zero value is usable.
type Connector struct {
	// ConnectTimeout bounds dialing one server, including its proxy
	// handshake and the payload write.
	ConnectTimeout time.Duration
	// ResponseTimeout bounds waiting for the first response byte when
	// WaitResponse is set.
	ResponseTimeout time.Duration
	// OnFailure, if set, is called for each server whose attempt failed.
	OnFailure func(*upstream.Server)
	Log       *zap.Logger
}

type attempt struct {
	server *upstream.Server
	conn   net.Conn
	err    error
}

// TryConnectAll walks the list best-first, keeping up to req.Parallel
// attempts running and starting the next candidate whenever one fails. The
// first successful attempt wins and the others are canceled and closed.
func (c *Connector) TryConnectAll(ctx context.Context, req Request) (*upstream.Server, net.Conn, error) {
	servers := req.List.Servers()
	if len(servers) == 0 {
		return nil, nil, ErrAllFailed
	}
	parallel := min(max(req.Parallel, 1), len(servers))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan attempt, len(servers))
	next, running := 0, 0
	start := func() {
		s := servers[next]
		next++
		running++
		go func() {
			conn, err := c.try(ctx, s, req)
			results <- attempt{server: s, conn: conn, err: err}
		}()
	}
	for next < parallel {
		start()
	}

	for running > 0 {
		r := <-results
		running--
		if r.err == nil && ctx.Err() != nil {
			// The caller gave up while this attempt was finishing.
			_ = r.conn.Close()
			continue
		}
		if r.err == nil {
			cancel()
			// Losers that still succeed are closed as they report in.
			go drain(results, running)
			return r.server, r.conn, nil
		}

		if ctx.Err() == nil {
			r.server.ConnectFailed()
			if c.OnFailure != nil {
				c.OnFailure(r.server)
			}
			c.log().Debug("connect attempt failed",
				zap.String("server", r.server.Tag),
				zap.Stringer("dest", req.Dest),
				zap.Error(r.err))
		}
		if next < len(servers) && ctx.Err() == nil {
			start()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrAllFailed, err)
	}
	return nil, nil, ErrAllFailed
}

func drain(results <-chan attempt, n int) {
	for range n {
		if r := <-results; r.conn != nil {
			_ = r.conn.Close()
		}
	}
}

// try runs a single attempt against s.
func (c *Connector) try(ctx context.Context, s *upstream.Server, req Request) (net.Conn, error) {
	dialCtx := ctx
	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}

	conn, err := s.DialContext(dialCtx, "tcp", req.Dest.String())
	if err != nil {
		return nil, err
	}
	if req.Payload.IsEmpty() {
		if err := ctx.Err(); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}

	// Abort the exchange below as soon as another attempt wins.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if dl, ok := dialCtx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	if _, err := req.Payload.WriteTo(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write pending data: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	if !req.WaitResponse {
		if !stop() {
			_ = conn.Close()
			return nil, ctx.Err()
		}
		return conn, nil
	}

	if c.ResponseTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.ResponseTimeout))
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if n == 0 {
		_ = conn.Close()
		if err == nil {
			err = errors.New("empty response")
		}
		return nil, fmt.Errorf("wait response: %w", err)
	}
	if !stop() {
		_ = conn.Close()
		return nil, ctx.Err()
	}
	_ = conn.SetReadDeadline(time.Time{})
	return &prefetchedConn{Conn: conn, buf: buf[:n]}, nil
}

func (c *Connector) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}
