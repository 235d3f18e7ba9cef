package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Counter receives byte counts as they are relayed.
type Counter interface {
	// AddTx counts bytes sent from the client to the upstream.
	AddTx(n int64)
	// AddRx counts bytes sent from the upstream to the client.
	AddRx(n int64)
}

// Pipe copies between the client conn left and the upstream conn right until
// both directions reach EOF, either side fails, or ctx is done. An EOF in one
// direction half-closes the other side's write end so the peer sees it, and
// the opposite direction keeps flowing. Counts are reported to stats as they
// happen. Both conns are closed when Pipe returns.
func Pipe(ctx context.Context, left, right net.Conn, stats Counter, pool *BufferPool) (tx, rx int64, err error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// Closing both sides unblocks any pending Read or Write.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	// ended is set when a conn without half-close support forced an early
	// close after a clean EOF; the resulting ErrClosed is not a failure.
	var ended atomic.Bool
	relay := func(dst, src net.Conn, count func(int64)) (int64, error) {
		n, err := copyHalf(dst, src, pool, count)
		switch {
		case errors.Is(err, errNoHalfClose):
			ended.Store(true)
			closeBoth()
			return n, nil
		case err != nil && ended.Load() && (errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)):
			return n, nil
		case err != nil:
			closeBoth()
		}
		return n, err
	}

	var g errgroup.Group
	g.Go(func() error {
		var err error
		tx, err = relay(right, left, stats.AddTx)
		return err
	})
	g.Go(func() error {
		var err error
		rx, err = relay(left, right, stats.AddRx)
		return err
	})

	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return tx, rx, err
}

// copyHalf relays src to dst and half-closes dst once src reaches EOF. It
// reports progress to count after every write.
func copyHalf(dst, src net.Conn, pool *BufferPool, count func(int64)) (int64, error) {
	buf := pool.Get()
	defer pool.Put(buf)

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
				count(int64(nw))
			}
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, closeWrite(dst)
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

var errNoHalfClose = errors.New("proxy: connection does not support half-close")

func closeWrite(c net.Conn) error {
	cw, ok := c.(interface{ CloseWrite() error })
	if !ok {
		return errNoHalfClose
	}
	// The peer may already be gone; the other direction reports that.
	_ = cw.CloseWrite()
	return nil
}
