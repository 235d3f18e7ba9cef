// Package socks5 holds the SOCKS5 handshake steps multiproxy needs on both
// sides of a connection: the client half used to reach SOCKS5 upstream
// servers, and the server half used by the SOCKS5 front end.
//
// It wraps the wire types of github.com/txthinking/socks5 so negotiation,
// CONNECT requests and replies are encoded in one place.
package socks5
