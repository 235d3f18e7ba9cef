package upstream

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Destination is where a client wanted to go: an IP address or host name
// plus a port.
type Destination struct {
	Host string
	Port uint16
}

// DestinationFromAddrPort converts a recovered socket address.
func DestinationFromAddrPort(ap netip.AddrPort) Destination {
	return Destination{Host: ap.Addr().Unmap().String(), Port: ap.Port()}
}

// ParseDestination parses host:port.
func ParseDestination(s string) (Destination, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Destination{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Destination{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return Destination{Host: host, Port: uint16(port)}, nil
}

// WithHost returns d with its host replaced. The port is kept.
func (d Destination) WithHost(host string) Destination {
	d.Host = host
	return d
}

func (d Destination) String() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}
