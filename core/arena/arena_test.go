package arena

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocFree(t *testing.T) {
	a := New(1024)

	p1, err := a.Alloc(100, 8)
	require.NoError(t, err)
	p2, err := a.Alloc(200, 8)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, 104+200, a.InUse())

	require.NoError(t, a.Free(p1))
	require.NoError(t, a.Free(p2))
	assert.Equal(t, 0, a.InUse())
	assert.Equal(t, 1, a.Spans(), "free spans should coalesce back into one")
	assert.Equal(t, 1024, a.Largest())
	assert.Equal(t, 304, a.Peak())
}

func TestAllocOutOfMemory(t *testing.T) {
	a := New(256)
	_, err := a.Alloc(128, 8)
	require.NoError(t, err)
	_, err = a.Alloc(200, 8)
	assert.True(t, errors.Is(err, ErrOutOfMemory))

	_, err = a.Alloc(0, 8)
	assert.True(t, errors.Is(err, ErrInvalidSize))
	_, err = a.Alloc(8, 3)
	assert.True(t, errors.Is(err, ErrInvalidSize))
}

func TestFreeInvalid(t *testing.T) {
	a := New(256)
	p, err := a.Alloc(16, 8)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))
	assert.True(t, errors.Is(a.Free(p), ErrInvalidPointer), "double free")
	assert.True(t, errors.Is(a.Free(Ptr(40)), ErrInvalidPointer))
}

func TestAlignment(t *testing.T) {
	a := New(1024)
	_, err := a.Alloc(8, 8)
	require.NoError(t, err)
	p, err := a.Alloc(32, 64)
	require.NoError(t, err)
	assert.Zero(t, int(p)%64)
	// The padding in front of the aligned block is still usable.
	q, err := a.Alloc(16, 8)
	require.NoError(t, err)
	assert.Less(t, int(q), int(p))
}

func TestAllocZeroes(t *testing.T) {
	a := New(128)
	p, err := a.Alloc(64, 8)
	require.NoError(t, err)
	buf, err := a.Bytes(p)
	require.NoError(t, err)
	for i := range buf {
		buf[i] = 0xff
	}
	require.NoError(t, a.Free(p))

	p, err = a.Alloc(64, 8)
	require.NoError(t, err)
	buf, err = a.Bytes(p)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 64), buf)
	assert.Equal(t, 64, cap(buf))
}

func TestCoalesceMiddle(t *testing.T) {
	a := New(96)
	p1, _ := a.Alloc(32, 8)
	p2, _ := a.Alloc(32, 8)
	p3, _ := a.Alloc(32, 8)
	require.Equal(t, 0, a.Spans())

	require.NoError(t, a.Free(p1))
	require.NoError(t, a.Free(p3))
	assert.Equal(t, 2, a.Spans())
	_, err := a.Alloc(64, 8)
	assert.True(t, errors.Is(err, ErrOutOfMemory), "fragmented arena cannot serve 64 bytes")

	require.NoError(t, a.Free(p2))
	assert.Equal(t, 1, a.Spans())
	_, err = a.Alloc(96, 8)
	assert.NoError(t, err)
}

func TestRealloc(t *testing.T) {
	a := New(512)
	p, err := a.Alloc(32, 8)
	require.NoError(t, err)
	buf, _ := a.Bytes(p)
	copy(buf, "hello")

	// Grows in place while the neighbour is free.
	q, err := a.Realloc(p, 128, 8)
	require.NoError(t, err)
	assert.Equal(t, p, q)
	buf, _ = a.Bytes(q)
	assert.Equal(t, []byte("hello"), buf[:5])
	assert.Equal(t, make([]byte, 96), buf[32:])

	// Blocked neighbour forces a move.
	blocker, err := a.Alloc(8, 8)
	require.NoError(t, err)
	r, err := a.Realloc(q, 256, 8)
	require.NoError(t, err)
	assert.NotEqual(t, q, r)
	buf, _ = a.Bytes(r)
	assert.Equal(t, []byte("hello"), buf[:5])
	assert.Equal(t, 256+8, a.InUse())

	// Failed growth keeps the original block.
	_, err = a.Realloc(blocker, 4096, 8)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, 8, a.Size(blocker))
}
