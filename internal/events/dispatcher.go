package events

import "sync"

type subscriber[E any] struct {
	id uint64
	fn func(E)
}

// Dispatcher fans a value out to subscribers synchronously, in
// subscription order. It has no knowledge of where events come from.
type Dispatcher[E any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[E]
}

func NewDispatcher[E any]() *Dispatcher[E] {
	return &Dispatcher[E]{}
}

// Subscribe registers fn and returns the function that removes it. The
// returned function is safe to call more than once.
func (d *Dispatcher[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscriber[E]{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(id) })
	}
}

func (d *Dispatcher[E]) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

// Dispatch delivers e to a snapshot of the current subscribers so handlers
// may unsubscribe themselves while running.
func (d *Dispatcher[E]) Dispatch(e E) {
	d.mu.RLock()
	subs := make([]subscriber[E], len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}

func (d *Dispatcher[E]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}
