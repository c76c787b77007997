// Package arena implements the bounded heap that backs one transaction
// attempt. The host gives a program a fixed amount of memory per step, so
// every frame record and every EVM memory buffer is carved out of a single
// preallocated buffer and released explicitly.
package arena

import (
	"github.com/pkg/errors"
)

var (
	// ErrOutOfMemory is returned when no free block can satisfy a request.
	ErrOutOfMemory = errors.New("arena: out of memory")

	// ErrInvalidPointer is returned when freeing or resolving a pointer that
	// does not designate a live allocation.
	ErrInvalidPointer = errors.New("arena: invalid pointer")

	// ErrInvalidSize is returned for non-positive sizes and bad alignments.
	ErrInvalidSize = errors.New("arena: invalid size")
)

// granule is the smallest unit handed out. Sizes are rounded up to it.
const granule = 8

// Ptr is the offset of an allocation inside the arena.
type Ptr uint32

// span is a free region. Free spans form a doubly linked list ordered by
// offset, so neighbours can be merged on release.
type span struct {
	off, size  int
	prev, next *span
}

// Arena is a first-fit allocator over a fixed buffer. It is not safe for
// concurrent use; one transaction attempt owns one arena.
type Arena struct {
	buf  []byte
	head *span
	live map[Ptr]int

	inUse int
	peak  int
}

// New creates an arena managing size bytes.
func New(size int) *Arena {
	a := &Arena{
		buf:  make([]byte, size),
		live: make(map[Ptr]int),
	}
	a.Reset()
	return a
}

// Reset releases every allocation.
func (a *Arena) Reset() {
	a.live = make(map[Ptr]int)
	a.inUse = 0
	if len(a.buf) > 0 {
		a.head = &span{off: 0, size: len(a.buf)}
	} else {
		a.head = nil
	}
}

// Alloc reserves size bytes aligned to align (a power of two). The returned
// region is zeroed.
func (a *Arena) Alloc(size, align int) (Ptr, error) {
	if size <= 0 || align <= 0 || align&(align-1) != 0 {
		return 0, errors.Wrapf(ErrInvalidSize, "size %d align %d", size, align)
	}
	size = roundUp(size, granule)

	for s := a.head; s != nil; s = s.next {
		start := roundUp(s.off, align)
		pad := start - s.off
		if pad+size > s.size {
			continue
		}
		a.carve(s, start, size)
		a.live[Ptr(start)] = size
		a.inUse += size
		if a.inUse > a.peak {
			a.peak = a.inUse
		}
		clear(a.buf[start : start+size])
		return Ptr(start), nil
	}
	return 0, errors.Wrapf(ErrOutOfMemory, "alloc %d bytes, %d available", size, a.Available())
}

// carve removes [start, start+size) from the free span s, keeping any
// leading padding and trailing remainder on the list.
func (a *Arena) carve(s *span, start, size int) {
	end := start + size
	tail := s.off + s.size - end
	lead := start - s.off

	switch {
	case lead > 0 && tail > 0:
		rest := &span{off: end, size: tail, prev: s, next: s.next}
		if s.next != nil {
			s.next.prev = rest
		}
		s.next = rest
		s.size = lead
	case lead > 0:
		s.size = lead
	case tail > 0:
		s.off = end
		s.size = tail
	default:
		a.unlink(s)
	}
}

func (a *Arena) unlink(s *span) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		a.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
}

// Free releases an allocation and merges it with adjacent free spans.
func (a *Arena) Free(p Ptr) error {
	size, ok := a.live[p]
	if !ok {
		return errors.Wrapf(ErrInvalidPointer, "free %d", p)
	}
	delete(a.live, p)
	a.inUse -= size

	off := int(p)
	var prev *span
	next := a.head
	for next != nil && next.off < off {
		prev, next = next, next.next
	}
	s := &span{off: off, size: size, prev: prev, next: next}
	if prev != nil {
		prev.next = s
	} else {
		a.head = s
	}
	if next != nil {
		next.prev = s
	}
	// Coalesce forward, then backward.
	if next != nil && s.off+s.size == next.off {
		s.size += next.size
		a.unlink(next)
	}
	if prev != nil && prev.off+prev.size == s.off {
		prev.size += s.size
		a.unlink(s)
	}
	return nil
}

// Realloc resizes an allocation, growing in place when the following span is
// free and large enough. On failure the original allocation stays valid.
func (a *Arena) Realloc(p Ptr, size, align int) (Ptr, error) {
	old, ok := a.live[p]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidPointer, "realloc %d", p)
	}
	size = roundUp(size, granule)
	if size <= old {
		return p, nil
	}
	end := int(p) + old
	for s := a.head; s != nil && s.off <= end; s = s.next {
		if s.off == end && s.size >= size-old {
			a.carve(s, end, size-old)
			clear(a.buf[end : int(p)+size])
			a.live[p] = size
			a.inUse += size - old
			if a.inUse > a.peak {
				a.peak = a.inUse
			}
			return p, nil
		}
	}
	np, err := a.Alloc(size, align)
	if err != nil {
		return 0, err
	}
	copy(a.buf[np:], a.buf[p:int(p)+old])
	if err := a.Free(p); err != nil {
		return 0, err
	}
	return np, nil
}

// Bytes returns the region of a live allocation. The slice is capped so
// appends cannot spill into neighbouring blocks.
func (a *Arena) Bytes(p Ptr) ([]byte, error) {
	size, ok := a.live[p]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidPointer, "resolve %d", p)
	}
	start := int(p)
	return a.buf[start : start+size : start+size], nil
}

// Size returns the usable size of a live allocation, or 0.
func (a *Arena) Size(p Ptr) int { return a.live[p] }

// Cap returns the total number of bytes managed by the arena.
func (a *Arena) Cap() int { return len(a.buf) }

// InUse returns the number of bytes currently allocated.
func (a *Arena) InUse() int { return a.inUse }

// Peak returns the high-water mark of InUse since creation.
func (a *Arena) Peak() int { return a.peak }

// Available returns the number of free bytes, regardless of fragmentation.
func (a *Arena) Available() int { return len(a.buf) - a.inUse }

// Largest returns the size of the biggest free span.
func (a *Arena) Largest() int {
	var max int
	for s := a.head; s != nil; s = s.next {
		if s.size > max {
			max = s.size
		}
	}
	return max
}

// Spans returns the number of free spans, a measure of fragmentation.
func (a *Arena) Spans() int {
	var n int
	for s := a.head; s != nil; s = s.next {
		n++
	}
	return n
}

func roundUp(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}
