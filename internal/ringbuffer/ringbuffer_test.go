package ringbuffer

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertSpaceInvariant(t *testing.T, r *Ring) {
	t.Helper()
	assert.Equal(t, r.Capacity(), r.ReadSpace()+r.WriteSpace())
}

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		size, capacity int
	}{
		{0, 1},
		{1, 1},
		{2, 1},
		{3, 3},
		{100, 127},
		{1024, 1023},
	}
	for _, tt := range tests {
		r := New(tt.size)
		assert.Equal(t, tt.capacity, r.Capacity(), "size %d", tt.size)
		assert.Equal(t, tt.capacity, r.WriteSpace())
		assert.Equal(t, 0, r.ReadSpace())
	}
}

func TestPeekSkipReadScenario(t *testing.T) {
	t.Parallel()

	r := New(16)
	require.Equal(t, 1, r.Write([]byte("a")))
	require.Equal(t, 1, r.Write([]byte("b")))

	buf := make([]byte, 1)
	require.Equal(t, 1, r.Peek(buf))
	assert.Equal(t, byte('a'), buf[0])

	require.Equal(t, 1, r.Skip(1))

	require.Equal(t, 1, r.Read(buf))
	assert.Equal(t, byte('b'), buf[0])

	assert.Equal(t, 0, r.Read(buf))
	assert.Equal(t, 0, r.Peek(buf))
	assert.Equal(t, 0, r.Skip(1))
	assertSpaceInvariant(t, r)
}

func TestWriteIsAllOrNothing(t *testing.T) {
	t.Parallel()

	r := New(8) // capacity 7
	require.Equal(t, 5, r.Write([]byte("12345")))

	before := r.ReadSpace()
	assert.Equal(t, 0, r.Write([]byte("abc")), "3 bytes exceed the 2 free bytes")
	assert.Equal(t, before, r.ReadSpace())
	assertSpaceInvariant(t, r)

	assert.Equal(t, 2, r.Write([]byte("67")), "exactly write space fits")
	assert.Equal(t, 0, r.WriteSpace())

	out := make([]byte, 7)
	require.Equal(t, 7, r.Read(out))
	assert.Equal(t, "1234567", string(out))
}

func TestReadIsAllOrNothing(t *testing.T) {
	t.Parallel()

	r := New(8)
	require.Equal(t, 2, r.Write([]byte("xy")))

	assert.Equal(t, 0, r.Read(make([]byte, 3)))
	assert.Equal(t, 0, r.Peek(make([]byte, 3)))
	assert.Equal(t, 0, r.Skip(3))
	assert.Equal(t, 2, r.ReadSpace(), "failed calls must not consume")
}

func TestPeekThenReadReturnsSameBytes(t *testing.T) {
	t.Parallel()

	r := New(32)
	// wrap the cursors around the end of the backing buffer
	require.Equal(t, 20, r.Write(make([]byte, 20)))
	require.Equal(t, 20, r.Skip(20))
	require.Equal(t, 10, r.Write([]byte("0123456789")))

	peeked := make([]byte, 10)
	read := make([]byte, 10)
	require.Equal(t, 10, r.Peek(peeked))
	require.Equal(t, 10, r.Read(read))
	assert.Equal(t, peeked, read)
	assert.Equal(t, "0123456789", string(read))
	assert.Equal(t, 0, r.ReadSpace())
}

func TestRandomOperationsKeepInvariantAndFIFO(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	r := New(64)
	var model []byte
	next := byte(0)

	for range 5000 {
		switch rng.IntN(4) {
		case 0:
			n := rng.IntN(20) + 1
			src := make([]byte, n)
			for i := range src {
				src[i] = next + byte(i)
			}
			got := r.Write(src)
			if n > r.Capacity()-len(model) {
				assert.Equal(t, 0, got)
			} else {
				assert.Equal(t, n, got)
				model = append(model, src...)
				next += byte(n)
			}
		case 1:
			n := rng.IntN(20) + 1
			dst := make([]byte, n)
			got := r.Read(dst)
			if n > len(model) {
				assert.Equal(t, 0, got)
			} else {
				assert.Equal(t, n, got)
				assert.Equal(t, model[:n], dst)
				model = model[n:]
			}
		case 2:
			n := rng.IntN(20) + 1
			dst := make([]byte, n)
			got := r.Peek(dst)
			if n <= len(model) {
				assert.Equal(t, n, got)
				assert.Equal(t, model[:n], dst)
			} else {
				assert.Equal(t, 0, got)
			}
		case 3:
			n := rng.IntN(5) + 1
			got := r.Skip(n)
			if n <= len(model) {
				assert.Equal(t, n, got)
				model = model[n:]
			} else {
				assert.Equal(t, 0, got)
			}
		}
		assert.Equal(t, len(model), r.ReadSpace())
		assertSpaceInvariant(t, r)
	}
}

func TestResetAndFree(t *testing.T) {
	t.Parallel()

	r := New(16)
	r.Write([]byte("abc"))
	r.Reset()
	assert.Equal(t, 0, r.ReadSpace())
	assert.Equal(t, r.Capacity(), r.WriteSpace())

	r.Free()
	assert.Equal(t, 0, r.Capacity())
	assert.Equal(t, 0, r.Write([]byte("x")))
	assert.Equal(t, 0, r.Read(make([]byte, 1)))
}

func TestMlock(t *testing.T) {
	t.Parallel()

	r := New(4096)
	if err := r.Mlock(); err != nil {
		// RLIMIT_MEMLOCK may be zero in containers
		t.Skipf("mlock unavailable: %v", err)
	}
	assert.NoError(t, r.Mlock(), "second lock is a no-op")
	r.Free()
}

// Tagged messages: 8-byte sequence number followed by 8 bytes derived from it.
func TestConcurrentSPSCStress(t *testing.T) {
	t.Parallel()

	const (
		messages = 200_000
		msgSize  = 16
	)
	r := New(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var msg [msgSize]byte
		for seq := uint64(0); seq < messages; {
			binary.LittleEndian.PutUint64(msg[:8], seq)
			binary.LittleEndian.PutUint64(msg[8:], ^seq*0x9E3779B97F4A7C15)
			if r.Write(msg[:]) == msgSize {
				seq++
			}
		}
	}()

	var corrupted, reordered int
	go func() {
		defer wg.Done()
		var msg [msgSize]byte
		for expect := uint64(0); expect < messages; {
			if r.Read(msg[:]) != msgSize {
				continue
			}
			seq := binary.LittleEndian.Uint64(msg[:8])
			if binary.LittleEndian.Uint64(msg[8:]) != ^seq*0x9E3779B97F4A7C15 {
				corrupted++
			}
			if seq != expect {
				reordered++
			}
			expect++
		}
	}()

	wg.Wait()
	assert.Zero(t, corrupted)
	assert.Zero(t, reordered)
	assert.Equal(t, 0, r.ReadSpace())
}

// A third goroutine sampling the space while both cursors move must always
// see a value within [0, Capacity].
func TestReadSpaceFromObserver(t *testing.T) {
	t.Parallel()

	const rounds = 200_000
	r := New(64)
	c := r.Capacity()

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Go(func() {
		var b [8]byte
		for n := 0; n < rounds; {
			if r.Write(b[:]) == len(b) {
				n++
			}
		}
	})
	wg.Go(func() {
		var b [8]byte
		for n := 0; n < rounds; {
			if r.Read(b[:]) == len(b) {
				n++
			}
		}
	})

	var bad atomic.Int64
	var observer sync.WaitGroup
	observer.Go(func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			if v := r.ReadSpace(); v < 0 || v > c {
				bad.Add(1)
			}
			if v := r.WriteSpace(); v < 0 || v > c {
				bad.Add(1)
			}
		}
	})

	wg.Wait()
	close(done)
	observer.Wait()
	assert.Zero(t, bad.Load())
	assert.Equal(t, c, r.WriteSpace())
}

func BenchmarkWriteRead(b *testing.B) {
	r := New(4096)
	block := make([]byte, 256)
	out := make([]byte, 256)
	b.ReportAllocs()
	for b.Loop() {
		r.Write(block)
		r.Read(out)
	}
}
