package events

// Ring keeps the last size values added to it.
type Ring[T any] struct {
	values []T
	size   int
	index  int
	filled bool
}

func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	return &Ring[T]{
		values: make([]T, size),
		size:   size,
	}
}

func (r *Ring[T]) Add(value T) {
	r.values[r.index] = value
	r.index = (r.index + 1) % r.size
	if r.index == 0 {
		r.filled = true
	}
}

func (r *Ring[T]) Len() int {
	if r.filled {
		return r.size
	}
	return r.index
}

// Values returns the stored values, oldest first.
func (r *Ring[T]) Values() []T {
	length := r.Len()
	result := make([]T, 0, length)
	if length == 0 {
		return result
	}
	if r.filled {
		result = append(result, r.values[r.index:]...)
	}
	result = append(result, r.values[:r.index]...)
	return result
}

// Last returns up to n of the newest values, oldest first.
func (r *Ring[T]) Last(n int) []T {
	values := r.Values()
	if n <= 0 || n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}
