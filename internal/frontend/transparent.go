package frontend

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/multiproxy/internal/client"
)

// TransparentServer serves connections redirected to it by the packet
// filter.
type TransparentServer struct {
	cfg Config
}

func NewTransparentServer(cfg Config) *TransparentServer {
	return &TransparentServer{cfg: cfg}
}

// Serve accepts connections until ln is closed. Connections run with ctx,
// and a closed listener after ctx is done is a clean shutdown.
func (s *TransparentServer) Serve(ctx context.Context, ln net.Listener) error {
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

func (s *TransparentServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	nc, err := client.New(conn, s.cfg.Env)
	if err != nil {
		return
	}
	_ = s.cfg.run(ctx, nc)
}
