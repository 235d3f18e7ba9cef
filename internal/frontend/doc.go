// Package frontend runs the accept loops that feed client connections into
// the client state machine: the transparent listener for redirected traffic
// and a SOCKS5 listener for applications that can be pointed at a proxy.
package frontend
