package bus

import "sync"

// Handle refers to a value stored in a SlotMap. The zero Handle never
// refers to a value.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

type slot[T any] struct {
	value T
	gen   uint32
	used  bool
}

// SlotMap stores values behind generational handles. A handle becomes
// stale when its value is removed; Get and Remove on a stale handle fail
// without touching the slot's new occupant.
type SlotMap[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	count int
}

// Insert stores v and returns its handle.
func (m *SlotMap[T]) Insert(v T) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		m.slots = append(m.slots, slot[T]{})
		idx = uint32(len(m.slots) - 1)
	}
	s := &m.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.value = v
	s.used = true
	m.count++
	return Handle{index: idx, gen: s.gen}
}

// Get returns the value for h.
func (m *SlotMap[T]) Get(h Handle) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.lookup(h); s != nil {
		return s.value, true
	}
	var zero T
	return zero, false
}

// Remove deletes the value for h and returns it. Removing a stale or zero
// handle returns false.
func (m *SlotMap[T]) Remove(h Handle) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	s := m.lookup(h)
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.used = false
	m.free = append(m.free, h.index)
	m.count--
	return v, true
}

// Len returns the number of stored values.
func (m *SlotMap[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *SlotMap[T]) lookup(h Handle) *slot[T] {
	if h.IsZero() || int(h.index) >= len(m.slots) {
		return nil
	}
	s := &m.slots[h.index]
	if !s.used || s.gen != h.gen {
		return nil
	}
	return s
}
