// Package observable provides read-only reactive values for UI layers that
// mirror engine state.
package observable

import "sync"

// Value holds the latest T and fans changes out to subscribers. Subscribers
// that fall behind only ever see the most recent value.
type Value[T comparable] struct {
	mu     sync.RWMutex
	value  T
	subs   map[int]chan T
	nextID int
}

func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{value: initial, subs: make(map[int]chan T)}
}

func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores next and notifies subscribers. It reports whether the value changed.
func (v *Value[T]) Set(next T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.value == next {
		return false
	}
	v.value = next
	for _, ch := range v.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	return true
}

// Subscribe returns a channel that receives every change after the call and
// a cancel func that closes it.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	ch := make(chan T, 1)
	v.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			close(ch)
			v.mu.Unlock()
		})
	}
	return ch, cancel
}
