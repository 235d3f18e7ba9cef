package proxy

import (
	"sync"
)

// DefaultBufferSize is the copy buffer size used when none is configured.
const DefaultBufferSize = 32 * 1024

// BufferPool recycles fixed-size copy buffers between connections.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a pool of size-byte buffers. A size <= 0 selects
// DefaultBufferSize.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// Get returns a buffer of the pool's size.
func (p *BufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

// Put returns b to the pool. Buffers of the wrong size are dropped.
func (p *BufferPool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:p.size]
	// This &b forces a 32-byte heap allocation.  There's no way to avoid this when converting a non-pointer to an interface{}.
	p.pool.Put(&b)
}
