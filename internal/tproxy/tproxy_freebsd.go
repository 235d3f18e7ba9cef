//go:build freebsd

package tproxy

import "golang.org/x/sys/unix"

// FreeBSD's BINDANY is a protocol-level option.
func setBindAny(fd int, network string) error {
	if network == "tcp6" {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_BINDANY, 1)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_BINDANY, 1)
}
