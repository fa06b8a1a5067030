package asyncnet

import "sync"

// numBuckets covers buffer sizes from 1 byte up to 1<<(numBuckets-1)
// bytes (256KiB at numBuckets=19), matching the 1B->64K span of
// xtaci/smux's Allocator but extended two buckets to comfortably cover
// this engine's larger default max message size.
const numBuckets = 19

// maxPooledBufferSize is the largest capacity bufferPool will ever
// hand out; requests above this fail with ErrBufferTooLarge.
const maxPooledBufferSize = 1 << (numBuckets - 1)

var debruijnPos = [...]byte{
	0, 9, 1, 10, 13, 21, 2, 29, 11, 14, 16, 18, 22, 25, 3, 30,
	8, 12, 20, 28, 15, 17, 24, 7, 19, 27, 23, 6, 26, 5, 4, 31,
}

// msb returns the position of the most significant set bit of size.
// Lifted from xtaci/smux/alloc.go's de Bruijn bit trick.
func msb(size int) byte {
	v := uint32(size)
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return debruijnPos[(v*0x07C4ACDD)>>27]
}

// bufferPool is a bucketed allocator of fixed-capacity byte buffers.
// Each bucket is a power-of-two size class backed by its own sync.Pool,
// guaranteeing at most 50% fragmentation waste per rental, exactly as
// in xtaci/smux's Allocator. Unlike smux's allocator, Return supports a
// secure-erase flag and Rent enforces an explicit upper bound with a
// typed error instead of silently returning nil.
type bufferPool struct {
	buckets [numBuckets]sync.Pool
}

// newBufferPool constructs a bufferPool. preWarmPerBucket, when > 0,
// eagerly populates every bucket with that many buffers so that the
// first burst of traffic after construction does not pay allocation
// cost — this implements the pooled_buffers_per_bucket construction
// option from spec.md §6.
func newBufferPool(preWarmPerBucket int) *bufferPool {
	p := &bufferPool{}
	for k := range p.buckets {
		size := 1 << uint(k)
		p.buckets[k].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	if preWarmPerBucket > 0 {
		for k := range p.buckets {
			warm := make([]*[]byte, 0, preWarmPerBucket)
			for i := 0; i < preWarmPerBucket; i++ {
				warm = append(warm, p.buckets[k].Get().(*[]byte))
			}
			for _, b := range warm {
				p.buckets[k].Put(b)
			}
		}
	}
	return p
}

// Rent returns a buffer whose capacity is >= minCapacity and <=
// maxPooledBufferSize, bucketed to the next power of two. Fails with
// ErrBufferTooLarge if minCapacity exceeds maxPooledBufferSize.
func (p *bufferPool) Rent(minCapacity int) ([]byte, error) {
	if minCapacity <= 0 {
		minCapacity = 1
	}
	if minCapacity > maxPooledBufferSize {
		return nil, ErrBufferTooLarge
	}

	bits := msb(minCapacity)
	if minCapacity != 1<<bits {
		bits++
	}
	ptr := p.buckets[bits].Get().(*[]byte)
	buf := (*ptr)[:cap(*ptr)]
	return buf, nil
}

// Return gives buf back to the pool for reuse. If clear is true the
// backing bytes are zeroed first, satisfying the secure-erase
// invariant of spec.md §3.
func (p *bufferPool) Return(buf []byte, clear bool) {
	c := cap(buf)
	if c == 0 || c > maxPooledBufferSize {
		return
	}
	bits := msb(c)
	if c != 1<<bits {
		// Not a bucket-native capacity (e.g. a caller-sliced buffer);
		// nothing to do but drop it.
		return
	}
	full := buf[:c]
	if clear {
		for i := range full {
			full[i] = 0
		}
	}
	p.buckets[bits].Put(&full)
}
