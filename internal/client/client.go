// Package client moves one accepted connection through its lifecycle:
// destination recovery, an optional bounded sniff of the first bytes, the
// race for an upstream server, and bridging.
//
// The stages are distinct types. Each transition consumes its receiver, and
// calling a second transition on the same value returns ErrConsumed without
// touching the connection. Every failure is logged where it happens, so
// callers may drop the returned error.
package client

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/multiproxy/internal/connect"
	"github.com/die-net/multiproxy/internal/proxy"
	"github.com/die-net/multiproxy/internal/upstream"
)

const (
	// DefaultHelloTimeout bounds the wait for the client's first bytes.
	DefaultHelloTimeout = 200 * time.Millisecond
	// DefaultHelloBufferSize is the largest first read that is sniffed.
	DefaultHelloBufferSize = 2048
)

// DefaultKeepAlive is the keep-alive policy applied to bridged sockets unless
// configured otherwise.
var DefaultKeepAlive = net.KeepAliveConfig{
	Enable:   true,
	Idle:     300 * time.Second,
	Interval: 300 * time.Second,
	Count:    3,
}

// KeepAliveOff turns keep-alive off on bridged sockets. The zero
// KeepAliveConfig cannot mean off, since it selects DefaultKeepAlive.
var KeepAliveOff = net.KeepAliveConfig{Enable: false, Idle: -1, Interval: -1, Count: -1}

var (
	// ErrConsumed is returned by a transition on a stage that already moved on.
	ErrConsumed = errors.New("client: state already consumed")
	// ErrAllServersDown is returned when no upstream server accepted the
	// connection.
	ErrAllServersDown = errors.New("client: all proxy servers down")
	// ErrPipe is returned when bridging ended with an I/O error.
	ErrPipe = errors.New("client: pipe failed")
)

// Connector races connection attempts across upstream servers.
type Connector interface {
	TryConnectAll(ctx context.Context, req connect.Request) (*upstream.Server, net.Conn, error)
}

// Env is the state shared by every client of one listener.
type Env struct {
	List      *upstream.ServerList
	Connector Connector
	// Pool supplies copy buffers. Nil uses a package-wide pool.
	Pool *proxy.BufferPool
	// KeepAlive is applied to both sockets before bridging. The zero value
	// selects DefaultKeepAlive; use KeepAliveOff to disable it.
	KeepAlive net.KeepAliveConfig
	// HelloTimeout and HelloBufferSize bound SniffHello; zero selects the
	// defaults.
	HelloTimeout    time.Duration
	HelloBufferSize int
	Log             *zap.Logger
}

var defaultPool = proxy.NewBufferPool(0)

func (e *Env) pool() *proxy.BufferPool {
	if e.Pool == nil {
		return defaultPool
	}
	return e.Pool
}

func (e *Env) helloTimeout() time.Duration {
	if e.HelloTimeout <= 0 {
		return DefaultHelloTimeout
	}
	return e.HelloTimeout
}

func (e *Env) helloBufferSize() int {
	if e.HelloBufferSize <= 0 {
		return DefaultHelloBufferSize
	}
	return e.HelloBufferSize
}

func (e *Env) keepAlive() net.KeepAliveConfig {
	if e.KeepAlive == (net.KeepAliveConfig{}) {
		return DefaultKeepAlive
	}
	return e.KeepAlive
}

// Logger returns e.Log, or a no-op logger when none is set.
func (e *Env) Logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// Connectable is a stage that can pick an upstream server.
type Connectable interface {
	// ConnectServer races the candidate servers with up to nParallel
	// attempts in flight, where the stage allows parallel attempts at all.
	ConnectServer(ctx context.Context, nParallel int) (*ConnectedClient, error)
}

// stage carries what every state knows about the client.
type stage struct {
	left     net.Conn
	peer     string
	dest     upstream.Destination
	env      *Env
	consumed atomic.Bool
}

func (s *stage) consume() bool {
	return s.consumed.CompareAndSwap(false, true)
}

// Dest returns the destination the client will be connected to.
func (s *stage) Dest() upstream.Destination { return s.dest }

// Peer returns the client's address.
func (s *stage) Peer() string { return s.peer }

func (s *stage) connect(ctx context.Context, req connect.Request) (*ConnectedClient, error) {
	log := s.env.Logger()
	srv, right, err := s.env.Connector.TryConnectAll(ctx, req)
	if err != nil {
		log.Warn("all proxy server down",
			zap.String("peer", s.peer),
			zap.Stringer("dest", s.dest),
			zap.Error(err))
		return nil, ErrAllServersDown
	}
	log.Info("connected",
		zap.String("peer", s.peer),
		zap.Stringer("dest", s.dest),
		zap.String("server", srv.Tag))
	return &ConnectedClient{
		stage:  stage{left: s.left, peer: s.peer, dest: s.dest, env: s.env},
		right:  right,
		server: srv,
		sent:   int64(req.Payload.Len()),
	}, nil
}
