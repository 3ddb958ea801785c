// Spinlock: the single critical-section primitive every other component in
// this package builds on. Lock disables local interrupts (via the port) and,
// when SMP is enabled, additionally spins on a shared CAS word the way two
// real cores would contend for a cache line. No scheduler or primitive state
// is ever read or mutated outside of a Spinlock (or the scheduler's own
// schedulerLock) hold.
//
// On real single-core hardware, masking IRQs is sufficient exclusion because
// nothing else can run while they're masked. Go's runtime has no such
// guarantee - other goroutines keep running regardless of the port's
// (simulated) IRQ state - so Spinlock also holds a real mutex to provide the
// exclusion IRQLock only provides on bare metal. The CAS word is kept and
// exercised exactly as SMP hardware would use it, for fidelity and so tests
// can assert on Port.AtomicCAS contention.

package kernel

import "sync"

type Spinlock struct {
	word      int32
	mu        sync.Mutex
	port      Port
	enableSMP bool
}

func NewSpinlock(port Port, enableSMP bool) *Spinlock {
	return &Spinlock{port: port, enableSMP: enableSMP}
}

// Lock returns the previous IRQ state, to be handed back to Unlock.
func (s *Spinlock) Lock() uint32 {
	prev := s.port.IRQLock()
	if s.enableSMP {
		for !s.port.AtomicCAS(&s.word, 0, 1) {
			// Busy-wait; a real port would issue a `nop`/`wfe` hint here.
		}
	}
	s.mu.Lock()
	return prev
}

func (s *Spinlock) Unlock(prev uint32) {
	s.mu.Unlock()
	if s.enableSMP {
		s.port.AtomicCAS(&s.word, 1, 0)
	}
	s.port.IRQUnlock(prev)
}
