// Package ringbuffer provides a fixed-capacity FIFO that overwrites its
// oldest element once full.
package ringbuffer

type RingBuffer[T any] struct {
	items []T
	head  int // index of the oldest element
	count int
}

func New[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

func (r *RingBuffer[T]) Len() int { return r.count }
func (r *RingBuffer[T]) Cap() int { return len(r.items) }
func (r *RingBuffer[T]) Full() bool { return r.count == len(r.items) }
func (r *RingBuffer[T]) Empty() bool { return r.count == 0 }

// Push appends v. When the buffer is full the oldest element is evicted and
// returned with ok set.
func (r *RingBuffer[T]) Push(v T) (evicted T, ok bool) {
	if r.count == len(r.items) {
		evicted = r.items[r.head]
		r.items[r.head] = v
		r.head = (r.head + 1) % len(r.items)
		return evicted, true
	}
	r.items[(r.head+r.count)%len(r.items)] = v
	r.count++
	return evicted, false
}

// At returns the i-th element counting from the oldest one.
func (r *RingBuffer[T]) At(i int) T {
	if i < 0 || i >= r.count {
		panic("ringbuffer: index out of range")
	}
	return r.items[(r.head+i)%len(r.items)]
}

// Oldest returns the slot that the next Push on a full buffer would
// overwrite. It lets callers recycle backing storage of evicted elements.
func (r *RingBuffer[T]) Oldest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.items[r.head], true
}

func (r *RingBuffer[T]) Clear() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.count = 0, 0
}
