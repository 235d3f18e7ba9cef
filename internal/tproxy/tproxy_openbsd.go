//go:build openbsd

package tproxy

import "golang.org/x/sys/unix"

// OpenBSD's BINDANY is a socket-level option.
func setBindAny(fd int, _ string) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BINDANY, 1)
}
