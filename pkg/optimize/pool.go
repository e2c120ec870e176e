package optimize

import (
	"sync"
)

// BytePool hands out fixed-size buffers for hot read loops. Buffers are
// stored by pointer so Put does not allocate.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	p := &BytePool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Size is the length of every buffer Get returns.
func (p *BytePool) Size() int {
	return p.size
}

func (p *BytePool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Buffers smaller than the pool size are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
