package frontend

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/multiproxy/internal/client"
	"github.com/die-net/multiproxy/internal/socks5"
	"github.com/die-net/multiproxy/internal/upstream"
)

// SOCKS5Server accepts SOCKS5 CONNECT requests without authentication. The
// reply is sent before an upstream is chosen so the client's first bytes can
// be sniffed like those of a redirected connection.
type SOCKS5Server struct {
	cfg Config
}

func NewSOCKS5Server(cfg Config) *SOCKS5Server {
	return &SOCKS5Server{cfg: cfg}
}

// Serve accepts connections until ln is closed.
func (s *SOCKS5Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handle(ctx, c)
	}
}

func (s *SOCKS5Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dest, err := s.handshake(conn)
	if err != nil {
		s.cfg.Env.Logger().Debug("socks5 handshake failed",
			zap.Stringer("peer", conn.RemoteAddr()),
			zap.Error(err))
		return
	}
	_ = s.cfg.run(ctx, client.FromDestination(conn, dest, s.cfg.Env))
}

func (s *SOCKS5Server) handshake(conn net.Conn) (upstream.Destination, error) {
	if s.cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}
	if err := socks5.Accept(conn, socks5.Auth{}); err != nil {
		return upstream.Destination{}, err
	}
	req, err := socks5.ReadRequest(conn)
	if err != nil {
		return upstream.Destination{}, err
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteCommandNotSupported(conn, req.Atyp)
		return upstream.Destination{}, fmt.Errorf("socks5: unsupported command %d", req.Cmd)
	}
	dest, err := upstream.ParseDestination(req.Address())
	if err != nil {
		socks5.WriteHostUnreachable(conn, req.Atyp)
		return upstream.Destination{}, err
	}
	if err := socks5.WriteSuccess(conn, conn.LocalAddr()); err != nil {
		return upstream.Destination{}, fmt.Errorf("socks5 reply: %w", err)
	}
	return dest, nil
}
