// Counting semaphore with an optional upper bound.

package kernel

type Semaphore struct {
	lock  *Spinlock
	waitQ *TaskQueue
	count int32
	max   int32 // 0 means unbounded
}

// NewSemaphore creates a semaphore with the given initial count. max, if
// positive, caps the count Give may raise it to.
func NewSemaphore(port Port, enableSMP bool, initial, max int32) *Semaphore {
	return &Semaphore{
		lock:  NewSpinlock(port, enableSMP),
		waitQ: NewWaitQueue(),
		count: initial,
		max:   max,
	}
}

// Take decrements the semaphore, blocking up to timeoutTicks ticks if it is
// at zero (zero ticks tries once and fails with BUSY rather than block). A
// Resume delivered while queued re-enters from the top to recheck count.
func (k *Kernel) SemaphoreTake(s *Semaphore, self *Task, timeoutTicks int64) StatusCode {
	for {
		prev := s.lock.Lock()
		if s.count > 0 {
			s.count--
			s.lock.Unlock(prev)
			return OK
		}
		if timeoutTicks == 0 {
			s.lock.Unlock(prev)
			return BUSY
		}

		self.onTimeout = func(t *Task, reason WakeupReason) {
			semPrev := s.lock.Lock()
			if s.waitQ.Remove(t) {
				k.wake(t, reason)
			}
			s.lock.Unlock(semPrev)
		}
		k.beginBlock(self, s.waitQ, BlockWaitForSemaphore, timeoutTicks)
		s.lock.Unlock(prev)

		reason := k.parkSelf(self)
		self.onTimeout = nil
		switch reason {
		case WakeupTimeout:
			return TIMEOUT
		case WakeupResume:
			continue
		default:
			return OK
		}
	}
}

// Give hands the unit directly to the highest-priority eligible waiter,
// waking it without changing the count, or increments the count if there
// is no eligible waiter. Returns NO_SEMAPHORE if max is set and the semaphore is
// already at it - checked first, since a semaphore at its ceiling has
// nothing to hand a waiter anyway.
func (k *Kernel) SemaphoreGive(s *Semaphore, self *Task) StatusCode {
	prev := s.lock.Lock()
	defer s.lock.Unlock(prev)

	if s.max > 0 && s.count >= s.max {
		return NO_SEMAPHORE
	}
	if t := s.waitQ.PopEligible(); t != nil {
		k.wake(t, WakeupSemaphoreTaken)
		return OK
	}
	s.count++
	return OK
}

// Count reports the current value, for tests and introspection.
func (s *Semaphore) Count() int32 {
	prev := s.lock.Lock()
	defer s.lock.Unlock(prev)
	return s.count
}
