// Package pool recycles encode buffers between events.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledSize keeps one oversized event from pinning its buffer forever
const maxPooledSize = 64 * 1024

// BufferPool hands out reset byte buffers
type BufferPool struct {
	pool      sync.Pool
	allocated atomic.Uint64
	discarded atomic.Uint64
}

// NewBufferPool creates an empty pool
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	p.pool.New = func() interface{} {
		p.allocated.Add(1)
		return new(bytes.Buffer)
	}
	return p
}

// Get returns an empty buffer
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. The caller must not use buf afterwards.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > maxPooledSize {
		p.discarded.Add(1)
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// Stats counts buffers created and buffers dropped for being too large
type Stats struct {
	Allocated uint64
	Discarded uint64
}

// Stats returns the pool counters
func (p *BufferPool) Stats() Stats {
	return Stats{
		Allocated: p.allocated.Load(),
		Discarded: p.discarded.Load(),
	}
}

var buffers = NewBufferPool()

// GetBuffer takes a buffer from the shared pool
func GetBuffer() *bytes.Buffer {
	return buffers.Get()
}

// PutBuffer returns a buffer to the shared pool
func PutBuffer(buf *bytes.Buffer) {
	buffers.Put(buf)
}
