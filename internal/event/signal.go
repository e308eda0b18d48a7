// SPDX-License-Identifier: MIT

// Package event provides a small in-process reactive primitive: a latest-value
// signal with conflated fan-out and a combinator over two live inputs. It is
// the in-memory pub/sub backbone for session and network state propagation.
package event

import (
	"context"
	"sync"
)

// Signal holds the latest value of type T and fans updates out to
// subscribers. Delivery is conflated: a slow subscriber observes the latest
// value, intermediate values may be dropped.
type Signal[T any] struct {
	mu    sync.Mutex
	set   bool
	value T
	eq    func(a, b T) bool
	subs  []*Subscription[T]
}

// New returns an empty signal with no current value.
func New[T any]() *Signal[T] {
	return &Signal[T]{}
}

// NewOf returns a signal seeded with an initial value.
func NewOf[T any](v T) *Signal[T] {
	s := New[T]()
	s.Set(v)
	return s
}

// NewDistinct returns a signal that suppresses updates equal to the current
// value, so subscribers only observe changes.
func NewDistinct[T comparable]() *Signal[T] {
	return &Signal[T]{eq: func(a, b T) bool { return a == b }}
}

// Set publishes a new value. On a distinct signal, a value equal to the
// current one is dropped.
func (s *Signal[T]) Set(v T) {
	s.mu.Lock()
	if s.set && s.eq != nil && s.eq(s.value, v) {
		s.mu.Unlock()
		return
	}
	s.value = v
	s.set = true
	subs := append([]*Subscription[T](nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.offer(v)
	}
}

// Get returns the current value and whether one has been published.
func (s *Signal[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Subscribe registers a new subscriber. If the signal already holds a value
// it is delivered immediately. The caller must Close the subscription.
func (s *Signal[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{sig: s, ch: make(chan T, 1)}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	v, ok := s.value, s.set
	s.mu.Unlock()
	if ok {
		sub.offer(v)
	}
	return sub
}

func (s *Signal[T]) unsubscribe(sub *Subscription[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.subs[:0]
	for _, c := range s.subs {
		if c != sub {
			out = append(out, c)
		}
	}
	s.subs = out
}

// Subscription is one subscriber's conflated view of a signal.
type Subscription[T any] struct {
	sig       *Signal[T]
	ch        chan T
	closeOnce sync.Once
}

// C returns the channel on which updates are delivered.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close detaches the subscription from its signal.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.sig.unsubscribe(s)
	})
}

// offer delivers v without blocking: if the buffer is full the stale value is
// evicted so the latest one wins.
func (s *Subscription[T]) offer(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Combine2 recomputes combine over the latest pair of inputs whenever either
// input changes, publishing results to the returned signal. Recomputation
// starts once both inputs hold a value. The goroutine exits when ctx is done.
func Combine2[A, B, C any](ctx context.Context, a *Signal[A], b *Signal[B], combine func(A, B) C) *Signal[C] {
	out := New[C]()
	CombineInto2(ctx, a, b, out, combine)
	return out
}

// CombineInto2 is Combine2 with a caller-supplied output signal, so the
// output can be a distinct signal that de-duplicates consecutive results.
func CombineInto2[A, B, C any](ctx context.Context, a *Signal[A], b *Signal[B], out *Signal[C], combine func(A, B) C) {
	subA := a.Subscribe()
	subB := b.Subscribe()

	go func() {
		defer subA.Close()
		defer subB.Close()

		var (
			va      A
			vb      B
			haveA   bool
			haveB   bool
		)
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-subA.C():
				va, haveA = v, true
			case v := <-subB.C():
				vb, haveB = v, true
			}
			if haveA && haveB {
				out.Set(combine(va, vb))
			}
		}
	}()
}
