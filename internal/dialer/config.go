package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS lookup plus TCP connect to the first hop.
	DialTimeout time.Duration
	// NegotiationTimeout bounds TLS and proxy handshakes after connect.
	NegotiationTimeout time.Duration
	// KeepAlive is applied to every outbound TCP connection.
	KeepAlive net.KeepAliveConfig
}
