// Package ring provides a capacity-bounded FIFO buffer. When full, pushing a
// new item evicts the oldest one. Buffers are not safe for concurrent use.
package ring

type Buffer[T any] struct {
	items []T
	start int
	size  int
}

func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v and reports whether the oldest item was evicted.
func (b *Buffer[T]) Push(v T) bool {
	if b.size < len(b.items) {
		b.items[(b.start+b.size)%len(b.items)] = v
		b.size++
		return false
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % len(b.items)
	return true
}

func (b *Buffer[T]) Len() int { return b.size }

func (b *Buffer[T]) Cap() int { return len(b.items) }

// At returns the i-th item counting from the oldest.
func (b *Buffer[T]) At(i int) T {
	return b.items[(b.start+i)%len(b.items)]
}

// Items returns a copy of the contents, oldest first.
func (b *Buffer[T]) Items() []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// Last returns a copy of the newest n items, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.At(b.size - n + i)
	}
	return out
}

// Retain keeps only the items for which keep returns true, preserving order.
// It returns the number of items removed.
func (b *Buffer[T]) Retain(keep func(T) bool) int {
	kept := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		if v := b.At(i); keep(v) {
			kept = append(kept, v)
		}
	}
	removed := b.size - len(kept)
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	copy(b.items, kept)
	b.start = 0
	b.size = len(kept)
	return removed
}
