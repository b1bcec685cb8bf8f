package surface

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Component is a resource created while rendering, such as an embedded
// child view. It is released when its scope closes.
type Component interface {
	ID() string
	Close() error
}

// Scope bounds the lifetime of components and callbacks. Closing a scope
// releases everything registered on it, newest first, including child
// scopes.
type Scope struct {
	id   string
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	entries []entry
}

type entry struct {
	comp  Component // nil for OnClose callbacks
	close func() error
}

// NewScope creates a root scope.
func NewScope() *Scope {
	return &Scope{id: uuid.NewString(), done: make(chan struct{})}
}

// ID returns the scope's unique id.
func (s *Scope) ID() string { return s.id }

// Done is closed when the scope closes.
func (s *Scope) Done() <-chan struct{} { return s.done }

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Child creates a scope that is closed together with s. A child closed on
// its own is forgotten by s. If s is already closed the child is returned
// closed.
func (s *Scope) Child() *Scope {
	child := NewScope()
	s.AddChild(child)
	child.OnClose(func() { s.forget(child) })
	return child
}

// AddChild registers c to be closed with the scope. If the scope is already
// closed, c is closed immediately.
func (s *Scope) AddChild(c Component) {
	if !s.add(entry{comp: c, close: c.Close}) {
		_ = c.Close()
	}
}

// OnClose registers fn to run when the scope closes. If the scope is
// already closed, fn runs immediately.
func (s *Scope) OnClose(fn func()) {
	if !s.add(entry{close: func() error { fn(); return nil }}) {
		fn()
	}
}

func (s *Scope) add(e entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.entries = append(s.entries, e)
	return true
}

func (s *Scope) forget(c Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.comp == c {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Components returns the live components registered on s, excluding child
// scopes.
func (s *Scope) Components() []Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Component
	for _, e := range s.entries {
		if _, isScope := e.comp.(*Scope); e.comp != nil && !isScope {
			out = append(out, e.comp)
		}
	}
	return out
}

// Close releases every registered resource in reverse order. Closing twice
// is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := s.entries
	s.entries = nil
	close(s.done)
	s.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
