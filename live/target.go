package live

import "sync"

// Attr is an in-memory attribute: a string value that may be present or
// absent. It counts the changes made to it, and is safe for concurrent use.
// A zero Attr is absent and ready for use.
type Attr struct {
	mu        sync.Mutex
	value     string
	present   bool
	mutations int
}

// Set makes a present with value v. Setting the value it already has is
// still counted as a mutation.
func (a *Attr) Set(v string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value, a.present = v, true
	a.mutations++
}

// Remove makes a absent. Removing an absent attribute is not a mutation.
func (a *Attr) Remove() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.present {
		a.value, a.present = "", false
		a.mutations++
	}
}

// Load reports the value of a and whether it is present.
func (a *Attr) Load() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value, a.present
}

// Store is a synonym for Set, so that an Attr is a [Target].
func (a *Attr) Store(v string) { a.Set(v) }

// Mutations reports the number of changes made to a.
func (a *Attr) Mutations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mutations
}

// Presence returns a boolean [Target] backed by a: true means the attribute
// is present (with an empty value), false that it is absent.
func (a *Attr) Presence() Target[bool] { return presence{a} }

type presence struct{ a *Attr }

func (p presence) Load() (bool, bool) {
	_, ok := p.a.Load()
	return ok, true
}

func (p presence) Store(on bool) {
	if on {
		p.a.Set("")
	} else {
		p.a.Remove()
	}
}

// Prop is an in-memory property that counts the stores made to it. A zero
// Prop holds the zero value of T, which counts as a value.
type Prop[T any] struct {
	mu   sync.Mutex
	v    T
	sets int
}

// Load returns the current value of p. It always reports true.
func (p *Prop[T]) Load() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v, true
}

// Store sets the value of p.
func (p *Prop[T]) Store(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v = v
	p.sets++
}

// Sets reports the number of calls to Store.
func (p *Prop[T]) Sets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sets
}
