// Package pool implements the memory pool, string interner, and hash
// indices of spec component C3; of these, the symbol resolver uses the
// string interner. Per design note 9 ("Hash tables with per-bucket
// dynamic arrays... the manual bucket-expansion logic in the source is
// an implementation detail, not a contract"), the hash indices here are
// backed by Go's native map, djb2-hashed for naming fidelity with the
// original bucket counts rather than because Go needs the hint.
package pool

import "unsafe"

const defaultArenaSize = 2 * 1024 * 1024 // 2 MiB, spec §4.3 default

// Arena is a bump allocator for records of type T: it hands out pointers
// into pre-sized chunks and never reclaims an individual record, only
// the whole arena at once. It grows by appending a new chunk rather than
// resizing an existing one, so every pointer it has ever returned stays
// valid for the arena's lifetime.
type Arena[T any] struct {
	chunkLen int
	chunks   [][]T
}

// NewArena creates an Arena whose chunks hold byteSize/sizeof(T) records
// (byteSize defaults to 2 MiB when 0).
func NewArena[T any](byteSize int) *Arena[T] {
	if byteSize <= 0 {
		byteSize = defaultArenaSize
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if elemSize < 1 {
		elemSize = 1
	}
	n := byteSize / elemSize
	if n < 1 {
		n = 1
	}
	return &Arena[T]{chunkLen: n}
}

// Alloc returns a pointer to a freshly zeroed T, valid for the arena's
// lifetime. It never returns an error: allocation failure in the
// original C host implementation is reported as Kind OutOfMemory, but
// under Go's managed heap a chunk append can only fail by panicking on
// true memory exhaustion, which is not a recoverable condition here.
func (a *Arena[T]) Alloc() *T {
	if len(a.chunks) == 0 || len(a.chunks[len(a.chunks)-1]) == cap(a.chunks[len(a.chunks)-1]) {
		a.chunks = append(a.chunks, make([]T, 0, a.chunkLen))
	}
	last := &a.chunks[len(a.chunks)-1]
	*last = (*last)[:len(*last)+1]
	return &(*last)[len(*last)-1]
}

// Len reports how many records have been allocated across all chunks.
func (a *Arena[T]) Len() int {
	n := 0
	for _, c := range a.chunks {
		n += len(c)
	}
	return n
}

// Chunks reports how many arena chunks have been allocated so far.
func (a *Arena[T]) Chunks() int { return len(a.chunks) }
