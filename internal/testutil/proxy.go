package testutil

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/die-net/multiproxy/internal/socks5"
)

// StartHTTPConnectProxy runs a minimal HTTP CONNECT proxy on loopback.
func StartHTTPConnectProxy(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	ln := listen(t, ctx)
	go serve(ln, func(c net.Conn) {
		br := bufio.NewReader(c)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		_ = req.Body.Close()
		if req.Method != http.MethodConnect {
			_, _ = io.WriteString(c, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
			return
		}

		var d net.Dialer
		dst, err := d.DialContext(ctx, "tcp", req.Host)
		if err != nil {
			_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
			return
		}
		defer dst.Close()

		_, _ = io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n")
		splice(c, br, dst)
	})
	return ln
}

// StartSOCKS5Proxy runs a minimal SOCKS5 CONNECT proxy on loopback.
func StartSOCKS5Proxy(t *testing.T, ctx context.Context, auth socks5.Auth) net.Listener {
	t.Helper()

	ln := listen(t, ctx)
	go serve(ln, func(c net.Conn) {
		if err := socks5.Accept(c, auth); err != nil {
			return
		}
		req, err := socks5.ReadRequest(c)
		if err != nil {
			return
		}
		if req.Cmd != socks5.CmdConnect {
			socks5.WriteCommandNotSupported(c, req.Atyp)
			return
		}

		var d net.Dialer
		dst, err := d.DialContext(ctx, "tcp", req.Address())
		if err != nil {
			socks5.WriteHostUnreachable(c, req.Atyp)
			return
		}
		defer dst.Close()

		if err := socks5.WriteSuccess(c, dst.LocalAddr()); err != nil {
			return
		}
		splice(c, c, dst)
	})
	return ln
}

func serve(ln net.Listener, handle func(net.Conn)) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer c.Close()
			handle(c)
		}()
	}
}

// splice copies client->dst from r and dst->client until both finish.
func splice(client net.Conn, r io.Reader, dst net.Conn) {
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(dst, r)
		if tc, ok := dst.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		close(done)
	}()
	_, _ = io.Copy(client, dst)
	if tc, ok := client.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	<-done
}
