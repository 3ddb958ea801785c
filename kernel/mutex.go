// Mutex: a binary lock with single-level priority inheritance. No recursive
// locking, no chained inheritance across multiple held mutexes.

package kernel

type Mutex struct {
	lock   *Spinlock
	waitQ  *TaskQueue
	locked bool
	owner  *Task
}

func NewMutex(port Port, enableSMP bool) *Mutex {
	return &Mutex{
		lock:  NewSpinlock(port, enableSMP),
		waitQ: NewWaitQueue(),
	}
}

// setPriorityLocked changes t's effective priority, repositioning it in the
// ready queue if it is currently sitting in one. Must hold schedulerLock.
func (k *Kernel) setPriorityLocked(t *Task, newPrio int32) {
	if t.priority == newPrio {
		return
	}
	wasReady := t.status == StatusReady
	if wasReady {
		k.ready.Remove(t)
	}
	t.priority = newPrio
	if wasReady {
		k.ready.Add(t)
	}
}

// Lock acquires m, blocking for up to timeoutTicks ticks (WaitForever for an
// unbounded wait, zero to try once and fail with BUSY rather than block).
// Returns OK, TIMEOUT or BUSY (self already owns m, or a zero-wait attempt
// found it held). A Resume delivered while queued re-enters from the top,
// since priority inheritance and the locked check must both be re-checked
// against whatever state m is in by the time the task actually wakes.
func (k *Kernel) MutexLock(m *Mutex, self *Task, timeoutTicks int64) StatusCode {
	for {
		prev := m.lock.Lock()

		if !m.locked {
			m.locked = true
			m.owner = self
			m.lock.Unlock(prev)
			return OK
		}
		if m.owner == self {
			m.lock.Unlock(prev)
			return BUSY
		}

		owner := m.owner
		schedPrev := k.schedulerLock.Lock()
		if self.priority < owner.priority {
			k.setPriorityLocked(owner, self.priority)
			owner.boosted = true
		}
		k.schedulerLock.Unlock(schedPrev)

		if timeoutTicks == 0 {
			m.lock.Unlock(prev)
			return BUSY
		}

		self.onTimeout = func(t *Task, reason WakeupReason) {
			mtxPrev := m.lock.Lock()
			if m.waitQ.Remove(t) {
				k.wake(t, reason)
			}
			m.lock.Unlock(mtxPrev)
		}
		k.beginBlock(self, m.waitQ, BlockWaitForMutex, timeoutTicks)
		m.lock.Unlock(prev)

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

// Unlock releases m. self must currently own it.
func (k *Kernel) MutexUnlock(m *Mutex, self *Task) StatusCode {
	prev := m.lock.Lock()
	defer m.lock.Unlock(prev)

	if !m.locked || m.owner != self {
		return NOT_OWNER
	}

	if self.boosted {
		schedPrev := k.schedulerLock.Lock()
		k.setPriorityLocked(self, self.basePrio)
		self.boosted = false
		k.schedulerLock.Unlock(schedPrev)
	}

	next := m.waitQ.PopEligible()
	if next == nil {
		m.locked = false
		m.owner = nil
		return OK
	}
	m.owner = next
	k.wake(next, WakeupMutexLocked)
	return OK
}

// TryLock attempts to acquire m without blocking.
func (k *Kernel) MutexTryLock(m *Mutex, self *Task) StatusCode {
	prev := m.lock.Lock()
	defer m.lock.Unlock(prev)
	if m.locked {
		return BUSY
	}
	m.locked = true
	m.owner = self
	return OK
}

// Owner reports the task currently holding m, or nil.
func (m *Mutex) Owner() *Task {
	prev := m.lock.Lock()
	defer m.lock.Unlock(prev)
	return m.owner
}
