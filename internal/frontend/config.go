package frontend

import (
	"context"
	"time"

	"github.com/die-net/multiproxy/internal/client"
)

// Config is shared by the front ends.
type Config struct {
	Env *client.Env
	// NParallel is the most attempts raced for one connection. Parallel
	// attempts are only made for sniffed TLS client hellos.
	NParallel int
	// Sniff enables reading the first bytes to find a TLS server name
	// before connecting.
	Sniff bool
	// HandshakeTimeout bounds the SOCKS5 handshake.
	HandshakeTimeout time.Duration
}

// run drives nc to completion. Failures were already logged by the stage
// that hit them.
func (c *Config) run(ctx context.Context, nc *client.NewClient) error {
	var next client.Connectable = nc
	if c.Sniff {
		wd, err := nc.SniffHello(ctx)
		if err != nil {
			return err
		}
		next = wd
	}

	cc, err := next.ConnectServer(ctx, c.NParallel)
	if err != nil {
		return err
	}
	return cc.Serve(ctx)
}
