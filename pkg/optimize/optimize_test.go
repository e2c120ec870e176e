package optimize

import (
	"testing"
)

func TestBytePool(t *testing.T) {
	pool := NewBytePool(1500)

	buf := pool.Get()
	if len(buf) != 1500 {
		t.Errorf("expected buffer size 1500, got %d", len(buf))
	}
	if pool.Size() != 1500 {
		t.Errorf("expected pool size 1500, got %d", pool.Size())
	}

	pool.Put(buf[:10])

	buf2 := pool.Get()
	if len(buf2) != 1500 {
		t.Errorf("expected reused buffer to be restored to 1500, got %d", len(buf2))
	}
}

func TestBytePool_DropsShortBuffers(t *testing.T) {
	pool := NewBytePool(64)

	pool.Put(make([]byte, 8))
	for i := 0; i < 4; i++ {
		if buf := pool.Get(); len(buf) != 64 {
			t.Fatalf("expected buffer size 64, got %d", len(buf))
		}
	}
}
