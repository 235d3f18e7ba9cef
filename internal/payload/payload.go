// Package payload holds bytes read from a client before an upstream was
// chosen, shared read-only between concurrent connection attempts.
package payload

import (
	"bytes"
	"encoding/hex"
	"io"
)

// Shared is an immutable view of a byte buffer. Copies of a Shared refer to
// the same backing array; nothing reachable through the API can modify it.
// The zero value is an empty payload.
type Shared struct {
	b []byte
}

// New takes ownership of b. The caller must not modify b afterwards.
func New(b []byte) Shared {
	if len(b) == 0 {
		return Shared{}
	}
	// Cap the slice so an append by a future holder can never write into
	// the shared array.
	return Shared{b: b[:len(b):len(b)]}
}

// Len returns the number of bytes held.
func (s Shared) Len() int { return len(s.b) }

// IsEmpty reports whether there are no bytes to replay.
func (s Shared) IsEmpty() bool { return len(s.b) == 0 }

// Clone returns another handle to the same bytes.
func (s Shared) Clone() Shared { return s }

// WriteTo writes the payload to w. It implements io.WriterTo.
func (s Shared) WriteTo(w io.Writer) (int64, error) {
	if len(s.b) == 0 {
		return 0, nil
	}
	n, err := w.Write(s.b)
	if err == nil && n != len(s.b) {
		err = io.ErrShortWrite
	}
	return int64(n), err
}

// NewReader returns a reader over the payload. Readers are independent of
// each other.
func (s Shared) NewReader() *bytes.Reader {
	return bytes.NewReader(s.b)
}

// Equal reports whether the payload holds exactly b.
func (s Shared) Equal(b []byte) bool {
	return bytes.Equal(s.b, b)
}

func (s Shared) String() string {
	const limit = 16
	if len(s.b) > limit {
		return hex.EncodeToString(s.b[:limit]) + "..."
	}
	return hex.EncodeToString(s.b)
}
