// Package proxy holds the connection plumbing shared by the listeners:
// keepalive listeners, a buffer pool, and the bidirectional copy that
// bridges a client to its upstream.
package proxy
