package client

import (
	"context"

	"github.com/die-net/multiproxy/internal/connect"
	"github.com/die-net/multiproxy/internal/payload"
)

// NewClientWithData is a client whose first bytes have been sniffed.
type NewClientWithData struct {
	stage
	pending       payload.Shared
	allowParallel bool
}

// Pending returns the bytes read while sniffing, to be replayed upstream.
func (c *NewClientWithData) Pending() payload.Shared { return c.pending }

// AllowParallel reports whether the pending bytes are safe to send to several
// servers at once.
func (c *NewClientWithData) AllowParallel() bool { return c.allowParallel }

// Parallel returns how many attempts ConnectServer keeps in flight for
// nParallel.
func (c *NewClientWithData) Parallel(nParallel int) int {
	if !c.allowParallel {
		return 1
	}
	return max(min(c.env.List.Len(), nParallel), 1)
}

// ConnectServer races the servers, replaying the pending bytes to each
// attempt and waiting for the server's first response.
func (c *NewClientWithData) ConnectServer(ctx context.Context, nParallel int) (*ConnectedClient, error) {
	if !c.consume() {
		return nil, ErrConsumed
	}
	return c.connect(ctx, connect.Request{
		Dest:         c.dest,
		List:         c.env.List,
		Parallel:     c.Parallel(nParallel),
		WaitResponse: true,
		Payload:      c.pending.Clone(),
	})
}
