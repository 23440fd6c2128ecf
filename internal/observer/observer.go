// Package observer is the named-event pub/sub shared by the facade, the
// component event bus and the components themselves.
package observer

import "sync"

type Callback func(payload interface{})

type entry struct {
	id uint64
	cb Callback
}

type Observable struct {
	mu        sync.Mutex
	nextID    uint64
	observers map[string][]entry
}

func New() *Observable {
	return &Observable{observers: make(map[string][]entry)}
}

// Subscribe registers cb for event and returns the function removing it
func (o *Observable) Subscribe(event string, cb Callback) func() {
	o.mu.Lock()
	if o.observers == nil {
		o.observers = make(map[string][]entry)
	}
	o.nextID++
	id := o.nextID
	o.observers[event] = append(o.observers[event], entry{id: id, cb: cb})
	o.mu.Unlock()

	return func() { o.remove(event, id) }
}

// Unsubscribe drops every callback registered for event
func (o *Observable) Unsubscribe(event string) {
	o.mu.Lock()
	delete(o.observers, event)
	o.mu.Unlock()
}

// Publish calls the callbacks of event in subscription order
func (o *Observable) Publish(event string, payload interface{}) {
	o.mu.Lock()
	entries := make([]entry, len(o.observers[event]))
	copy(entries, o.observers[event])
	o.mu.Unlock()

	for _, e := range entries {
		e.cb(payload)
	}
}

// Reset clears the observer table
func (o *Observable) Reset() {
	o.mu.Lock()
	o.observers = make(map[string][]entry)
	o.mu.Unlock()
}

func (o *Observable) Len(event string) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.observers[event])
}

func (o *Observable) remove(event string, id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := o.observers[event]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(o.observers, event)
		return
	}
	o.observers[event] = entries
}
