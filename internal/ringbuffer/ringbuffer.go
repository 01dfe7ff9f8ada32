// Package ringbuffer implements a lock-free single-producer single-consumer byte ring.
//
// Exactly one goroutine may call Write and exactly one goroutine may call
// Read, Peek and Skip. The two cursors are published with atomic stores, so the
// reader always observes fully written bytes up to the last published write
// cursor. No operation blocks, allocates or returns a partial transfer.
package ringbuffer

import (
	"sync/atomic"
)

// cacheLinePad keeps the producer and consumer cursors on separate cache lines
type cacheLinePad [56]byte

// Ring is a fixed-size SPSC byte ring. Cursors increase monotonically and are
// masked into the power-of-two backing buffer. One byte of the backing buffer
// is never used so that Capacity() is size-1, matching the classic
// read-space + write-space == capacity invariant.
type Ring struct {
	write atomic.Uint64
	_     cacheLinePad
	read  atomic.Uint64
	_     cacheLinePad

	buf    []byte
	mask   uint64
	locked atomic.Bool
}

// New creates a ring whose backing size is size rounded up to the next power
// of two. The usable capacity is that size minus one.
func New(size int) *Ring {
	n := 2
	for n < size {
		n <<= 1
	}
	return &Ring{
		buf:  make([]byte, n),
		mask: uint64(n - 1),
	}
}

// Capacity returns the number of bytes the ring can hold
func (r *Ring) Capacity() int {
	if len(r.buf) == 0 {
		return 0
	}
	return len(r.buf) - 1
}

// ReadSpace returns the number of bytes available to the reader. It is also
// safe from a third goroutine, where the result is a snapshot in [0, Capacity].
func (r *Ring) ReadSpace() int {
	// read first: the write cursor never trails a read cursor loaded earlier
	rd := r.read.Load()
	w := r.write.Load()
	used := w - rd
	if c := r.Capacity(); used > uint64(c) {
		// the writer advanced between the two loads
		return c
	}
	return int(used)
}

// WriteSpace returns the number of bytes the writer can append
func (r *Ring) WriteSpace() int {
	return r.Capacity() - r.ReadSpace()
}

// Write appends all of src or nothing. It returns len(src) on success and 0
// when WriteSpace() < len(src).
func (r *Ring) Write(src []byte) int {
	n := uint64(len(src))
	if n == 0 || len(r.buf) == 0 {
		return 0
	}
	w := r.write.Load()
	rd := r.read.Load()
	if uint64(r.Capacity())-(w-rd) < n {
		return 0
	}

	pos := w & r.mask
	if first := uint64(len(r.buf)) - pos; first >= n {
		copy(r.buf[pos:pos+n], src)
	} else {
		copy(r.buf[pos:], src[:first])
		copy(r.buf[:n-first], src[first:])
	}

	r.write.Store(w + n)
	return int(n)
}

// Peek copies len(dst) bytes without consuming them. It returns 0 if fewer
// bytes are readable.
func (r *Ring) Peek(dst []byte) int {
	n := uint64(len(dst))
	if n == 0 {
		return 0
	}
	rd := r.read.Load()
	if r.write.Load()-rd < n {
		return 0
	}
	r.copyOut(dst, rd)
	return int(n)
}

// Read copies and consumes len(dst) bytes. It returns 0 if fewer bytes are readable.
func (r *Ring) Read(dst []byte) int {
	n := uint64(len(dst))
	if n == 0 {
		return 0
	}
	rd := r.read.Load()
	if r.write.Load()-rd < n {
		return 0
	}
	r.copyOut(dst, rd)
	r.read.Store(rd + n)
	return int(n)
}

// Skip consumes n bytes without copying. It returns 0 if fewer bytes are readable.
func (r *Ring) Skip(n int) int {
	if n <= 0 {
		return 0
	}
	rd := r.read.Load()
	if r.write.Load()-rd < uint64(n) {
		return 0
	}
	r.read.Store(rd + uint64(n))
	return n
}

func (r *Ring) copyOut(dst []byte, rd uint64) {
	n := uint64(len(dst))
	pos := rd & r.mask
	if first := uint64(len(r.buf)) - pos; first >= n {
		copy(dst, r.buf[pos:pos+n])
	} else {
		copy(dst[:first], r.buf[pos:])
		copy(dst[first:], r.buf[:n-first])
	}
}

// Reset empties the ring. It must only be called while neither the writer nor
// the reader is active.
func (r *Ring) Reset() {
	r.write.Store(0)
	r.read.Store(0)
}

// Mlock locks the backing buffer into physical memory so the real-time side
// never takes a page fault on it.
func (r *Ring) Mlock() error {
	if len(r.buf) == 0 || r.locked.Load() {
		return nil
	}
	if err := mlock(r.buf); err != nil {
		return newMlockError(err, len(r.buf))
	}
	r.locked.Store(true)
	return nil
}

// Free unlocks and releases the backing buffer. The ring reports zero
// capacity afterwards. No goroutine may use the ring concurrently with Free.
func (r *Ring) Free() {
	if r.locked.Swap(false) {
		_ = munlock(r.buf)
	}
	r.buf = nil
	r.mask = 0
	r.Reset()
}
