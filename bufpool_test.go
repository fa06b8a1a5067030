package asyncnet

import "testing"

func TestBufferPoolRentCapacity(t *testing.T) {
	p := newBufferPool(0)
	buf, err := p.Rent(100)
	if err != nil {
		t.Fatalf("Rent returned error: %v", err)
	}
	if cap(buf) < 100 {
		t.Fatalf("expected capacity >= 100, got %d", cap(buf))
	}
	if cap(buf) != 128 {
		t.Fatalf("expected bucket-rounded capacity of 128, got %d", cap(buf))
	}
}

func TestBufferPoolRentExactPowerOfTwo(t *testing.T) {
	p := newBufferPool(0)
	buf, err := p.Rent(64)
	if err != nil {
		t.Fatalf("Rent returned error: %v", err)
	}
	if cap(buf) != 64 {
		t.Fatalf("expected exact bucket match of 64, got %d", cap(buf))
	}
}

func TestBufferPoolRentTooLarge(t *testing.T) {
	p := newBufferPool(0)
	if _, err := p.Rent(maxPooledBufferSize + 1); err != ErrBufferTooLarge {
		t.Fatalf("expected ErrBufferTooLarge, got %v", err)
	}
}

func TestBufferPoolReturnAndReuse(t *testing.T) {
	p := newBufferPool(0)
	buf, err := p.Rent(256)
	if err != nil {
		t.Fatalf("Rent returned error: %v", err)
	}
	buf[0] = 0xAB
	p.Return(buf, false)

	reused, err := p.Rent(256)
	if err != nil {
		t.Fatalf("Rent returned error: %v", err)
	}
	if reused[0] != 0xAB {
		t.Fatalf("expected pooled buffer to be reused without clearing")
	}
}

func TestBufferPoolReturnClearsWhenRequested(t *testing.T) {
	p := newBufferPool(0)
	buf, err := p.Rent(32)
	if err != nil {
		t.Fatalf("Rent returned error: %v", err)
	}
	for i := range buf {
		buf[i] = 0xFF
	}
	p.Return(buf, true)

	reused, err := p.Rent(32)
	if err != nil {
		t.Fatalf("Rent returned error: %v", err)
	}
	for i, b := range reused {
		if b != 0 {
			t.Fatalf("expected cleared buffer at index %d, got %x", i, b)
		}
	}
}

func TestBufferPoolPreWarm(t *testing.T) {
	p := newBufferPool(4)
	for k := range p.buckets {
		size := 1 << uint(k)
		buf, err := p.Rent(size)
		if err != nil {
			t.Fatalf("Rent(%d) returned error: %v", size, err)
		}
		if cap(buf) != size {
			t.Fatalf("expected pre-warmed bucket %d capacity, got %d", size, cap(buf))
		}
	}
}

func TestMSB(t *testing.T) {
	cases := map[int]byte{1: 0, 2: 1, 3: 1, 4: 2, 64: 6, 127: 6, 128: 7}
	for in, want := range cases {
		if got := msb(in); got != want {
			t.Fatalf("msb(%d) = %d, want %d", in, got, want)
		}
	}
}
