// CondVar: a condition variable paired with a caller-supplied Mutex, in the
// usual "release atomically with enqueue, reacquire on wake" shape. The
// CondVar's own spinlock is what makes the release-then-block step atomic
// with respect to a concurrent Signal/Broadcast: a signaller must also take
// it before touching the wait queue, so no wakeup can be lost between the
// waiter's mutex unlock and its enqueue.

package kernel

type CondVar struct {
	lock  *Spinlock
	waitQ *TaskQueue
}

func NewCondVar(port Port, enableSMP bool) *CondVar {
	return &CondVar{
		lock:  NewSpinlock(port, enableSMP),
		waitQ: NewWaitQueue(),
	}
}

// Wait atomically releases m and blocks self on c, reacquiring m before
// returning regardless of whether it returns because of a signal or a
// timeout. self must hold m when calling Wait. A Resume delivered while
// queued loops back to re-enqueue on c directly - m was already released
// before the first enqueue, so there is nothing to re-release.
func (k *Kernel) CondVarWait(c *CondVar, self *Task, m *Mutex, timeoutTicks int64) StatusCode {
	prev := c.lock.Lock()

	if st := k.MutexUnlock(m, self); st != OK {
		c.lock.Unlock(prev)
		return st
	}

	var reason WakeupReason
	for {
		self.onTimeout = func(t *Task, r WakeupReason) {
			cvPrev := c.lock.Lock()
			if c.waitQ.Remove(t) {
				k.wake(t, r)
			}
			c.lock.Unlock(cvPrev)
		}
		k.beginBlock(self, c.waitQ, BlockWaitForCondVar, timeoutTicks)
		c.lock.Unlock(prev)

		reason = k.parkSelf(self)
		self.onTimeout = nil
		if reason != WakeupResume {
			break
		}
		prev = c.lock.Lock()
	}

	lockStatus := k.MutexLock(m, self, WaitForever)
	if reason == WakeupTimeout {
		return TIMEOUT
	}
	return lockStatus
}

// Signal wakes the single highest-priority eligible waiter, if any.
// Returns NO_TASK if the wait queue has no eligible waiter to wake.
func (k *Kernel) CondVarSignal(c *CondVar) StatusCode {
	prev := c.lock.Lock()
	defer c.lock.Unlock(prev)
	t := c.waitQ.PopEligible()
	if t == nil {
		return NO_TASK
	}
	k.wake(t, WakeupCondVarSignalled)
	return OK
}

// Broadcast wakes every eligible waiter. Returns NO_TASK if none were
// eligible to wake.
func (k *Kernel) CondVarBroadcast(c *CondVar) StatusCode {
	prev := c.lock.Lock()
	defer c.lock.Unlock(prev)
	woke := false
	for {
		t := c.waitQ.PopEligible()
		if t == nil {
			break
		}
		k.wake(t, WakeupCondVarSignalled)
		woke = true
	}
	if !woke {
		return NO_TASK
	}
	return OK
}
