package connect

import "net"

// prefetchedConn returns the bytes read while waiting for the server's first
// response before reading from the socket again.
type prefetchedConn struct {
	net.Conn
	buf []byte
}

func (c *prefetchedConn) Read(p []byte) (int, error) {
	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// CloseWrite half-closes the connection when the underlying conn supports it.
func (c *prefetchedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Unwrap exposes the underlying connection, e.g. for socket options.
func (c *prefetchedConn) Unwrap() net.Conn {
	return c.Conn
}
