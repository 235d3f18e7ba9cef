// Package dialer opens outbound TCP connections to a destination through one
// upstream server: directly, via an HTTP(S) CONNECT proxy, or via a SOCKS5
// proxy.
//
// Destinations may be host names (for example an SNI name recovered from a
// ClientHello); proxy dialers pass them to the proxy unresolved.
package dialer
