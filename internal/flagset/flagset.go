// Package flagset provides a multi-bit signal primitive.
//
// Producers OR bits into a Set; a single consumer blocks until any bit of
// interest is present and optionally clears exactly the bits it observed.
// Bits set before a wait begins are never lost: they stay latched until a
// waiter returns them.
package flagset

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by WaitAnyTimeout when no requested bit was set in time.
var ErrTimeout = errors.New("flagset: wait timed out")

// Bits is a bit pattern. Bit meanings are defined by the owner of a Set.
type Bits uint32

// Has reports whether any bit of mask is present in b.
func (b Bits) Has(mask Bits) bool {
	return b&mask != 0
}

// Set is a latched group of signal bits. Safe for concurrent use, but each
// Set is meant to have exactly one waiting consumer.
type Set struct {
	mu      sync.Mutex
	bits    Bits
	changed chan struct{} // closed and replaced on every Set
}

// New creates an empty Set.
func New() *Set {
	return &Set{changed: make(chan struct{})}
}

// Set ORs bits into the current state and wakes any waiter.
func (s *Set) Set(bits Bits) {
	if bits == 0 {
		return
	}
	s.mu.Lock()
	s.bits |= bits
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Clear removes bits and returns the state as it was before clearing.
func (s *Set) Clear(bits Bits) Bits {
	s.mu.Lock()
	prev := s.bits
	s.bits &^= bits
	s.mu.Unlock()
	return prev
}

// Replace clears the clear bits and sets the set bits in one step, so a
// waiter never observes the old and new bits together.
func (s *Set) Replace(clear, set Bits) {
	s.mu.Lock()
	s.bits = s.bits&^clear | set
	if set != 0 {
		close(s.changed)
		s.changed = make(chan struct{})
	}
	s.mu.Unlock()
}

// Get returns the current bit pattern.
func (s *Set) Get() Bits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits
}

// WaitAny blocks until at least one bit in mask is set, then returns the set
// subset of mask. With clear, exactly the returned bits are cleared before
// returning. Returns ctx.Err() if ctx ends first; nothing is cleared then.
func (s *Set) WaitAny(ctx context.Context, mask Bits, clear bool) (Bits, error) {
	for {
		s.mu.Lock()
		if got := s.bits & mask; got != 0 {
			if clear {
				s.bits &^= got
			}
			s.mu.Unlock()
			return got, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// WaitAnyTimeout is WaitAny bounded by d. Returns ErrTimeout on expiry.
func (s *Set) WaitAnyTimeout(mask Bits, clear bool, d time.Duration) (Bits, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	bits, err := s.WaitAny(ctx, mask, clear)
	if errors.Is(err, context.DeadlineExceeded) {
		return 0, ErrTimeout
	}
	return bits, err
}
