package bufpool

import (
	"sync"
	"testing"
)

func TestPoolGetReturnsSizedBuffer(t *testing.T) {
	t.Parallel()

	p := New()

	tests := []struct {
		name        string
		requestSize int
		expectCap   int
	}{
		{name: "nonce", requestSize: 1528, expectCap: 1536},
		{name: "handshake block", requestSize: 1536, expectCap: 1536},
		{name: "version plus block", requestSize: 1537, expectCap: 4096},
		{name: "small", requestSize: 64, expectCap: 1536},
		{name: "large", requestSize: 5000, expectCap: 65536},
		{name: "oversized", requestSize: 131072, expectCap: 131072},
		{name: "zero", requestSize: 0, expectCap: 0},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			buf := p.Get(tc.requestSize)
			if tc.requestSize == 0 {
				if len(buf) != 0 || cap(buf) != 0 {
					t.Fatalf("expected zero-length buffer, got len=%d cap=%d", len(buf), cap(buf))
				}
				return
			}

			if len(buf) != tc.requestSize {
				t.Fatalf("expected len=%d, got %d", tc.requestSize, len(buf))
			}

			if cap(buf) != tc.expectCap {
				t.Fatalf("expected cap=%d, got %d", tc.expectCap, cap(buf))
			}
		})
	}
}

func TestPoolPutZeroesBuffer(t *testing.T) {
	t.Parallel()

	p := New()

	buf := p.Get(1528)
	for i := range buf {
		buf[i] = 0xAA
	}
	p.Put(buf)

	// The backing array was cleared on Put whether or not sync.Pool hands it back.
	full := buf[:cap(buf)]
	for i, v := range full {
		if v != 0 {
			t.Fatalf("expected buffer to be zeroed, found value %d at index %d", v, i)
		}
	}

	reused := p.Get(1528)
	if len(reused) != 1528 || cap(reused) != 1536 {
		t.Fatalf("unexpected reused buffer len=%d cap=%d", len(reused), cap(reused))
	}
	for i, v := range reused {
		if v != 0 {
			t.Fatalf("expected reused buffer to be zeroed, found value %d at index %d", v, i)
		}
	}
	p.Put(reused)
}

func TestPoolOutstandingAccounting(t *testing.T) {
	t.Parallel()

	p := New()
	a := p.Get(1528)
	b := p.Get(1537)
	c := p.Get(200000)
	if got := p.Outstanding(); got != 3 {
		t.Fatalf("expected 3 outstanding, got %d", got)
	}
	p.Put(a)
	p.Put(b)
	p.Put(c)
	if got := p.Outstanding(); got != 0 {
		t.Fatalf("expected 0 outstanding, got %d", got)
	}

	// nil and zero-size requests are not counted
	p.Put(nil)
	_ = p.Get(0)
	if got := p.Outstanding(); got != 0 {
		t.Fatalf("expected nil/zero to be ignored, got %d", got)
	}
}

func TestNilPoolIsSafe(t *testing.T) {
	var p *Pool
	if buf := p.Get(10); buf != nil {
		t.Fatalf("expected nil buffer from nil pool")
	}
	p.Put(make([]byte, 10))
	if p.Outstanding() != 0 {
		t.Fatalf("expected zero outstanding for nil pool")
	}
}

func TestPoolConcurrentAccess(t *testing.T) {
	t.Parallel()

	p := New()
	var wg sync.WaitGroup

	worker := func(size int) {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			buf := p.Get(size)
			if len(buf) != size {
				t.Errorf("expected len=%d, got %d", size, len(buf))
				return
			}
			for j := range buf {
				buf[j] = byte(i)
			}
			p.Put(buf)
		}
	}

	sizes := []int{64, 1528, 1536, 1537, 8192, 40000}
	for _, size := range sizes {
		size := size
		wg.Add(1)
		go worker(size)
	}

	wg.Wait()
	if got := p.Outstanding(); got != 0 {
		t.Fatalf("expected balanced Get/Put, got %d outstanding", got)
	}
}
