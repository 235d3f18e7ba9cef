// Package tproxy accepts connections redirected to this host by the packet
// filter and recovers the address each client originally dialed.
//
// On Linux the listener may set IP_TRANSPARENT, and OriginalDst asks
// netfilter's conntrack for the pre-NAT destination via SO_ORIGINAL_DST, so
// both iptables REDIRECT and TPROXY rules work. Only IPv4 destinations can be
// recovered; connections on IPv6 sockets fail with ErrIPv6Unsupported.
//
// On FreeBSD (IPFW fwd, PF rdr-to) and OpenBSD (PF rdr-to) the listener sets
// BINDANY and the original destination is the accepted socket's local
// address.
//
// Other platforms return ErrUnsupported.
package tproxy

import "errors"

var (
	// ErrUnsupported is returned on platforms without transparent proxying.
	ErrUnsupported = errors.New("tproxy: transparent proxy not supported on this platform")
	// ErrIPv6Unsupported is returned for connections on IPv6 sockets.
	ErrIPv6Unsupported = errors.New("tproxy: original destination of ipv6 connection not supported")
)
