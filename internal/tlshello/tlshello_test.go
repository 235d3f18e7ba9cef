package tlshello

import (
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"
)

type helloOpts struct {
	sni       string
	earlyData bool
	alpn      []string
	versions  []uint16
}

// buildHello returns a single TLS record carrying a ClientHello.
func buildHello(o helloOpts) []byte {
	var b cryptobyte.Builder
	b.AddUint8(recordTypeHandshake)
	b.AddUint16(tls.VersionTLS10)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(handshakeClientHello)
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(tls.VersionTLS12)
			b.AddBytes(make([]byte, 32))
			b.AddUint8LengthPrefixed(func(*cryptobyte.Builder) {})
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16(tls.TLS_AES_128_GCM_SHA256)
			})
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8(0)
			})
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				if o.sni != "" {
					b.AddUint16(extServerName)
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							b.AddUint8(serverNameTypeHostName)
							b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
								b.AddBytes([]byte(o.sni))
							})
						})
					})
				}
				if len(o.alpn) > 0 {
					b.AddUint16(extALPN)
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							for _, p := range o.alpn {
								b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
									b.AddBytes([]byte(p))
								})
							}
						})
					})
				}
				if len(o.versions) > 0 {
					b.AddUint16(extSupportedVersions)
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
							for _, v := range o.versions {
								b.AddUint16(v)
							}
						})
					})
				}
				if o.earlyData {
					b.AddUint16(extEarlyData)
					b.AddUint16(0)
				}
			})
		})
	})
	return b.BytesOrPanic()
}

// captureClientHello returns the first record a crypto/tls client writes.
func captureClientHello(t *testing.T, cfg *tls.Config) []byte {
	t.Helper()

	c, s := net.Pipe()
	t.Cleanup(func() {
		_ = c.Close()
		_ = s.Close()
	})
	go func() { _ = tls.Client(c, cfg).Handshake() }()

	hdr := make([]byte, recordHeaderLen)
	_, err := io.ReadFull(s, hdr)
	require.NoError(t, err)
	body := make([]byte, binary.BigEndian.Uint16(hdr[3:]))
	_, err = io.ReadFull(s, body)
	require.NoError(t, err)
	return append(hdr, body...)
}

func TestParseRealClientHello(t *testing.T) {
	t.Parallel()

	raw := captureClientHello(t, &tls.Config{
		ServerName:       "Example.COM",
		NextProtos:       []string{"h2", "http/1.1"},
		CurvePreferences: []tls.CurveID{tls.X25519},
		MinVersion:       tls.VersionTLS12,
	})

	hello, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "example.com", hello.ServerName)
	require.Equal(t, []string{"h2", "http/1.1"}, hello.ALPN)
	require.Contains(t, hello.Versions, uint16(tls.VersionTLS13))
	require.False(t, hello.EarlyData)
}

func TestParseRealClientHelloWithoutSNI(t *testing.T) {
	t.Parallel()

	raw := captureClientHello(t, &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // Never completes a handshake.
		CurvePreferences:   []tls.CurveID{tls.X25519},
	})

	hello, err := Parse(raw)
	require.NoError(t, err)
	require.Empty(t, hello.ServerName)
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		want    ClientHello
		wantErr error
	}{
		{
			name: "sni",
			data: buildHello(helloOpts{sni: "example.com"}),
			want: ClientHello{ServerName: "example.com", Versions: []uint16{tls.VersionTLS12}},
		},
		{
			name: "early data",
			data: buildHello(helloOpts{sni: "a.example", earlyData: true, versions: []uint16{tls.VersionTLS13}}),
			want: ClientHello{ServerName: "a.example", EarlyData: true, Versions: []uint16{tls.VersionTLS13}},
		},
		{
			name: "trailing dot stripped",
			data: buildHello(helloOpts{sni: "example.org."}),
			want: ClientHello{ServerName: "example.org", Versions: []uint16{tls.VersionTLS12}},
		},
		{
			name: "ip literal ignored",
			data: buildHello(helloOpts{sni: "192.0.2.1"}),
			want: ClientHello{Versions: []uint16{tls.VersionTLS12}},
		},
		{
			name: "ipv6 literal ignored",
			data: buildHello(helloOpts{sni: "2001:db8::1"}),
			want: ClientHello{Versions: []uint16{tls.VersionTLS12}},
		},
		{
			name: "no extensions",
			data: buildHello(helloOpts{}),
			want: ClientHello{Versions: []uint16{tls.VersionTLS12}},
		},
		{
			name: "underscore allowed",
			data: buildHello(helloOpts{sni: "_acme.example.com"}),
			want: ClientHello{ServerName: "_acme.example.com", Versions: []uint16{tls.VersionTLS12}},
		},
		{
			name: "longest name",
			data: buildHello(helloOpts{sni: longName(253)}),
			want: ClientHello{ServerName: longName(253), Versions: []uint16{tls.VersionTLS12}},
		},
		{
			name:    "name too long",
			data:    buildHello(helloOpts{sni: longName(254)}),
			wantErr: ErrMalformed,
		},
		{
			name:    "name wraps one length byte",
			data:    buildHello(helloOpts{sni: "evilpp" + strings.Repeat("a", 254) + ".com"}),
			wantErr: ErrMalformed,
		},
		{
			name:    "label too long",
			data:    buildHello(helloOpts{sni: strings.Repeat("a", 64) + ".com"}),
			wantErr: ErrMalformed,
		},
		{
			name:    "empty label",
			data:    buildHello(helloOpts{sni: "a..example.com"}),
			wantErr: ErrMalformed,
		},
		{
			name:    "port in name",
			data:    buildHello(helloOpts{sni: "example.com:22"}),
			wantErr: ErrMalformed,
		},
		{
			name:    "control bytes",
			data:    buildHello(helloOpts{sni: "exa\x00mple.com"}),
			wantErr: ErrMalformed,
		},
		{
			name:    "http request",
			data:    []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"),
			wantErr: ErrNotHandshake,
		},
		{
			name:    "single non-tls byte",
			data:    []byte{'G'},
			wantErr: ErrNotHandshake,
		},
		{
			name:    "empty",
			data:    nil,
			wantErr: ErrTruncated,
		},
		{
			name:    "header only",
			data:    buildHello(helloOpts{sni: "example.com"})[:recordHeaderLen],
			wantErr: ErrTruncated,
		},
		{
			name:    "record cut short",
			data:    cut(buildHello(helloOpts{sni: "example.com"}), 10),
			wantErr: ErrTruncated,
		},
		{
			name:    "not a client hello",
			data:    []byte{recordTypeHandshake, 3, 3, 0, 4, 2, 0, 0, 0},
			wantErr: ErrNotHandshake,
		},
		{
			name:    "garbage body",
			data:    []byte{recordTypeHandshake, 3, 1, 0, 6, handshakeClientHello, 0, 0, 2, 3, 3},
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tt.data)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseFragmentedRecords(t *testing.T) {
	t.Parallel()

	whole := buildHello(helloOpts{sni: "split.example", alpn: []string{"h2"}})
	msg := whole[recordHeaderLen:]

	// Split after 3 bytes so even the handshake header spans two records.
	var data []byte
	for _, part := range [][]byte{msg[:3], msg[3:]} {
		data = append(data, recordTypeHandshake, 3, 1)
		data = binary.BigEndian.AppendUint16(data, uint16(len(part)))
		data = append(data, part...)
	}

	hello, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "split.example", hello.ServerName)
	require.Equal(t, []string{"h2"}, hello.ALPN)

	_, err = Parse(data[:len(data)-1])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestParseDoesNotModifyInput(t *testing.T) {
	t.Parallel()

	data := buildHello(helloOpts{sni: "Upper.Example", alpn: []string{"h2"}})
	orig := bytes.Clone(data)

	_, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, orig, data)
}

func TestParseIgnoresTrailingBytes(t *testing.T) {
	t.Parallel()

	data := append(buildHello(helloOpts{sni: "example.com"}), 0x17, 0x03, 0x03, 0x00)
	hello, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "example.com", hello.ServerName)
}

// longName returns a valid host name of exactly n bytes.
func longName(n int) string {
	var b strings.Builder
	for b.Len() < n {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strings.Repeat("a", min(maxHostLabelLen, n-b.Len())))
	}
	return b.String()
}

func cut(b []byte, n int) []byte {
	return b[:len(b)-n]
}
