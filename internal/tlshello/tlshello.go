// Package tlshello extracts routing information from the first bytes of a
// TLS connection without terminating it.
//
// Parse only looks at the bytes it is given: a ClientHello split across more
// data than was supplied is reported as ErrTruncated rather than waited for.
package tlshello

import (
	"errors"
	"net"
	"strings"

	"golang.org/x/crypto/cryptobyte"
)

const (
	recordTypeHandshake    = 22
	handshakeClientHello   = 1
	recordHeaderLen        = 5
	handshakeHeaderLen     = 4
	maxHandshakeMessageLen = 1 << 16

	extServerName        uint16 = 0
	extALPN              uint16 = 16
	extEarlyData         uint16 = 42
	extSupportedVersions uint16 = 43

	serverNameTypeHostName = 0

	maxHostNameLen  = 253
	maxHostLabelLen = 63
)

var (
	// ErrNotHandshake means the data does not start a TLS ClientHello.
	ErrNotHandshake = errors.New("tlshello: not a tls client hello")
	// ErrTruncated means the data looks like a ClientHello but ends early.
	ErrTruncated = errors.New("tlshello: truncated client hello")
	// ErrMalformed means the ClientHello could not be decoded.
	ErrMalformed = errors.New("tlshello: malformed client hello")
)

// ClientHello is the subset of a TLS ClientHello needed for routing.
type ClientHello struct {
	// ServerName is the lower-cased SNI host name, or "" if absent.
	ServerName string
	// EarlyData is set when the client offers 0-RTT data.
	EarlyData bool
	// ALPN lists the offered application protocols in client order.
	ALPN []string
	// Versions lists offered protocol versions, from supported_versions when
	// present, otherwise the legacy record version.
	Versions []uint16
}

// Parse decodes a ClientHello from data, which must begin with a TLS record
// header. Handshake messages fragmented over several records are
// reassembled. data is never modified.
func Parse(data []byte) (ClientHello, error) {
	msg, err := handshakeMessage(data)
	if err != nil {
		return ClientHello{}, err
	}
	return parseClientHello(msg)
}

// handshakeMessage returns the body of the first handshake message carried
// by the records in data.
func handshakeMessage(data []byte) ([]byte, error) {
	in := cryptobyte.String(data)

	var hs []byte
	want := -1
	for want < 0 || len(hs) < want {
		if len(in) == 0 {
			return nil, ErrTruncated
		}
		if len(in) < recordHeaderLen {
			if in[0] != recordTypeHandshake {
				return nil, ErrNotHandshake
			}
			return nil, ErrTruncated
		}

		var (
			typ      uint8
			vers     uint16
			fragment cryptobyte.String
		)
		if !in.ReadUint8(&typ) || !in.ReadUint16(&vers) {
			return nil, ErrTruncated
		}
		if typ != recordTypeHandshake || vers>>8 != 3 {
			return nil, ErrNotHandshake
		}
		if !in.ReadUint16LengthPrefixed(&fragment) {
			return nil, ErrTruncated
		}
		if len(fragment) == 0 {
			return nil, ErrMalformed
		}

		if hs == nil && want < 0 {
			// Common case: the whole message fits in this one record and
			// can be sliced without copying.
			hs = fragment
		} else {
			hs = append(hs[:len(hs):len(hs)], fragment...)
		}

		if want < 0 && len(hs) >= handshakeHeaderLen {
			if hs[0] != handshakeClientHello {
				return nil, ErrNotHandshake
			}
			n := int(hs[1])<<16 | int(hs[2])<<8 | int(hs[3])
			if n > maxHandshakeMessageLen {
				return nil, ErrMalformed
			}
			want = handshakeHeaderLen + n
		}
	}
	return hs[handshakeHeaderLen:want], nil
}

func parseClientHello(body []byte) (ClientHello, error) {
	var (
		hello       ClientHello
		s           = cryptobyte.String(body)
		legacyVers  uint16
		sessionID   cryptobyte.String
		suites      cryptobyte.String
		compression cryptobyte.String
	)
	if !s.ReadUint16(&legacyVers) ||
		!s.Skip(32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint16LengthPrefixed(&suites) ||
		!s.ReadUint8LengthPrefixed(&compression) {
		return ClientHello{}, ErrMalformed
	}
	if len(suites)%2 != 0 || len(compression) == 0 {
		return ClientHello{}, ErrMalformed
	}

	if s.Empty() {
		// Extensions are optional; such a hello carries no SNI.
		hello.Versions = []uint16{legacyVers}
		return hello, nil
	}

	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) || !s.Empty() {
		return ClientHello{}, ErrMalformed
	}

	seen := make(map[uint16]bool)
	for !exts.Empty() {
		var (
			ext  uint16
			data cryptobyte.String
		)
		if !exts.ReadUint16(&ext) || !exts.ReadUint16LengthPrefixed(&data) {
			return ClientHello{}, ErrMalformed
		}
		if seen[ext] {
			return ClientHello{}, ErrMalformed
		}
		seen[ext] = true

		switch ext {
		case extServerName:
			name, err := parseServerName(data)
			if err != nil {
				return ClientHello{}, err
			}
			hello.ServerName = name
		case extALPN:
			protos, err := parseALPN(data)
			if err != nil {
				return ClientHello{}, err
			}
			hello.ALPN = protos
		case extEarlyData:
			if !data.Empty() {
				return ClientHello{}, ErrMalformed
			}
			hello.EarlyData = true
		case extSupportedVersions:
			var list cryptobyte.String
			if !data.ReadUint8LengthPrefixed(&list) || list.Empty() || !data.Empty() {
				return ClientHello{}, ErrMalformed
			}
			for !list.Empty() {
				var v uint16
				if !list.ReadUint16(&v) {
					return ClientHello{}, ErrMalformed
				}
				hello.Versions = append(hello.Versions, v)
			}
		}
	}

	if len(hello.Versions) == 0 {
		hello.Versions = []uint16{legacyVers}
	}
	return hello, nil
}

func parseServerName(data cryptobyte.String) (string, error) {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) || list.Empty() || !data.Empty() {
		return "", ErrMalformed
	}
	var name string
	for !list.Empty() {
		var (
			typ  uint8
			host cryptobyte.String
		)
		if !list.ReadUint8(&typ) || !list.ReadUint16LengthPrefixed(&host) {
			return "", ErrMalformed
		}
		if typ != serverNameTypeHostName {
			continue
		}
		if name != "" || len(host) == 0 {
			return "", ErrMalformed
		}
		name = strings.TrimSuffix(strings.ToLower(string(host)), ".")
	}
	// RFC 6066 forbids literal addresses in SNI.
	if net.ParseIP(name) != nil {
		return "", nil
	}
	if name != "" && !validHostName(name) {
		return "", ErrMalformed
	}
	return name, nil
}

// validHostName reports whether name is a DNS name that can be forwarded
// as-is: at most 253 bytes of dot-separated labels of 1 to 63 letters,
// digits, hyphens or underscores. name must already be lower-cased.
func validHostName(name string) bool {
	if name == "" || len(name) > maxHostNameLen {
		return false
	}
	for label := range strings.SplitSeq(name, ".") {
		if label == "" || len(label) > maxHostLabelLen {
			return false
		}
		for i := range len(label) {
			switch c := label[i]; {
			case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			default:
				return false
			}
		}
	}
	return true
}

func parseALPN(data cryptobyte.String) ([]string, error) {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) || list.Empty() || !data.Empty() {
		return nil, ErrMalformed
	}
	var protos []string
	for !list.Empty() {
		var proto cryptobyte.String
		if !list.ReadUint8LengthPrefixed(&proto) || proto.Empty() {
			return nil, ErrMalformed
		}
		protos = append(protos, string(proto))
	}
	return protos, nil
}
