package lock

import (
	"context"
	"sync"
)

// Signaler delivers "proceed" signals to waiters, identified by the wait token
// of their ticket.
type Signaler interface {
	// Listen starts listening for signals sent to token.
	//
	// Any signal sent after Listen() returns is delivered to the listener.
	Listen(ctx context.Context, token string) (Listener, error)

	// Signal sends a signal to the listeners for token, if any.
	Signal(ctx context.Context, token string) error
}

// Listener receives signals sent to a specific token.
type Listener interface {
	// Signaled returns a channel that receives a value when a signal is
	// delivered. Multiple signals may be coalesced.
	Signaled() <-chan struct{}

	// Close stops listening.
	Close() error
}

// LocalSignaler is an in-process implementation of Signaler.
//
// The zero-value is ready to use.
type LocalSignaler struct {
	m         sync.Mutex
	listeners map[string]map[*localListener]struct{}
}

// Listen starts listening for signals sent to token.
func (s *LocalSignaler) Listen(_ context.Context, token string) (Listener, error) {
	s.m.Lock()
	defer s.m.Unlock()

	l := &localListener{
		signaler: s,
		token:    token,
		ch:       make(chan struct{}, 1),
	}

	if s.listeners == nil {
		s.listeners = map[string]map[*localListener]struct{}{}
	}

	set := s.listeners[token]
	if set == nil {
		set = map[*localListener]struct{}{}
		s.listeners[token] = set
	}

	set[l] = struct{}{}

	return l, nil
}

// Signal sends a signal to the listeners for token, if any.
func (s *LocalSignaler) Signal(_ context.Context, token string) error {
	s.m.Lock()
	defer s.m.Unlock()

	for l := range s.listeners[token] {
		l.notify()
	}

	return nil
}

func (s *LocalSignaler) remove(l *localListener) {
	s.m.Lock()
	defer s.m.Unlock()

	set := s.listeners[l.token]
	delete(set, l)

	if len(set) == 0 {
		delete(s.listeners, l.token)
	}
}

type localListener struct {
	signaler *LocalSignaler
	token    string
	ch       chan struct{}
}

func (l *localListener) Signaled() <-chan struct{} {
	return l.ch
}

func (l *localListener) Close() error {
	l.signaler.remove(l)
	return nil
}

func (l *localListener) notify() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}
