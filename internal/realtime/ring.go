package realtime

// ring is a fixed-capacity buffer that evicts the oldest element on
// overflow.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = v
	if r.count < len(r.buf) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

// tail returns a pointer to the newest element, or nil when empty.
func (r *ring[T]) tail() *T {
	if r.count == 0 {
		return nil
	}
	return &r.buf[(r.head+r.count-1)%len(r.buf)]
}

// last returns up to n newest elements in chronological order. n <= 0
// returns everything.
func (r *ring[T]) last(n int) []T {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]T, n)
	start := r.head + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *ring[T]) len() int { return r.count }
