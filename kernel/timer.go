// Software timers. Countdown happens on the tick handler's goroutine; the
// callback itself always runs on the dedicated timer task, one firing at a
// time, never inline in the tick handler, which must stay cheap and must
// never itself call a blocking primitive. Deferring to a real task (rather
// than a detached goroutine) is what lets a callback take a mutex or wait
// on a semaphore the way any other task body can.

package kernel

import "fmt"

type Timer struct {
	lock        *Spinlock
	name        string
	periodTicks uint32
	oneShot     bool
	remaining   int64
	active      bool
	callback    func(t *Timer, arg any)
	arg         any
	waitQ       *TaskQueue
}

func (t *Timer) Name() string { return t.name }

// TimerTask returns the kernel's dedicated timer task, the *Task a timer
// callback must pass as self when it calls a blocking primitive (it runs
// on this task, not on a goroutine of its own).
func (k *Kernel) TimerTask() *Task { return k.timerTask }

// NewTimer declares a one-shot or periodic software timer. The callback is
// invoked on the kernel's timer task; it may block (take a mutex, wait on a
// semaphore, and so on) like any other task body, but one firing at a time
// - a slow callback delays the next one. Returns NO_MEMORY if the kernel's
// timer pool (KernelConfig.MaxTimers, zero meaning unbounded) is exhausted.
func (k *Kernel) NewTimer(name string, periodTicks uint32, oneShot bool, callback func(t *Timer, arg any), arg any) (*Timer, error) {
	if periodTicks == 0 {
		return nil, fmt.Errorf("NewTimer %q: period must be positive", name)
	}
	if callback == nil {
		return nil, fmt.Errorf("NewTimer %q: nil callback", name)
	}
	tlPrev := k.timersLock.Lock()
	if k.maxTimers > 0 && len(k.timers) >= k.maxTimers {
		k.timersLock.Unlock(tlPrev)
		return nil, NO_MEMORY
	}
	t := &Timer{
		lock:        NewSpinlock(k.port, k.enableSMP),
		name:        name,
		periodTicks: periodTicks,
		oneShot:     oneShot,
		callback:    callback,
		arg:         arg,
		waitQ:       NewWaitQueue(),
	}
	k.timers = append(k.timers, t)
	k.timersLock.Unlock(tlPrev)
	return t, nil
}

// Start (re)arms the timer for periodTicks ticks from now. Fails with
// ALREADY_ACTIVE if the timer is already counting down.
func (t *Timer) Start() StatusCode {
	prev := t.lock.Lock()
	defer t.lock.Unlock(prev)
	if t.active {
		return ALREADY_ACTIVE
	}
	t.remaining = int64(t.periodTicks)
	t.active = true
	return OK
}

// Stop disarms the timer; a callback already in flight still runs. Fails
// with NOT_ACTIVE if the timer isn't currently counting down.
func (t *Timer) Stop() StatusCode {
	prev := t.lock.Lock()
	defer t.lock.Unlock(prev)
	if !t.active {
		return NOT_ACTIVE
	}
	t.active = false
	t.remaining = 0
	return OK
}

// Active reports whether the timer is currently counting down.
func (t *Timer) Active() bool {
	prev := t.lock.Lock()
	defer t.lock.Unlock(prev)
	return t.active
}

// tickTimers decrements every armed timer and hands off the ones that
// expire to the timer task. Called once per scheduler tick.
func (k *Kernel) tickTimers() {
	tlPrev := k.timersLock.Lock()
	timers := k.timers
	k.timersLock.Unlock(tlPrev)

	for _, t := range timers {
		prev := t.lock.Lock()
		fired := false
		if t.active && t.remaining > 0 {
			t.remaining--
			if t.remaining == 0 {
				fired = true
				if t.oneShot {
					t.active = false
				} else {
					t.remaining = int64(t.periodTicks)
				}
			}
		}
		t.lock.Unlock(prev)
		if fired {
			tlPrev := k.timersLock.Lock()
			k.firedTimers = append(k.firedTimers, t)
			k.timersLock.Unlock(tlPrev)
			k.SemaphoreGive(k.timerSem, nil)
		}
	}
}

// popFiredTimer returns the next fired timer awaiting its callback, or nil.
func (k *Kernel) popFiredTimer() *Timer {
	prev := k.timersLock.Lock()
	defer k.timersLock.Unlock(prev)
	if len(k.firedTimers) == 0 {
		return nil
	}
	t := k.firedTimers[0]
	k.firedTimers = k.firedTimers[1:]
	return t
}

// timerTaskEntry is the timer task's body: wait for tickTimers to signal a
// firing, run that timer's callback (which may itself block - this is a
// real task, not interrupt context), then wake anyone parked in TimerWait
// on it, one firing at a time across the whole kernel.
func timerTaskEntry(k *Kernel, self *Task, param any) {
	for {
		k.SemaphoreTake(k.timerSem, self, WaitForever)
		t := k.popFiredTimer()
		if t == nil {
			continue
		}
		t.callback(t, t.arg)
		prev := t.lock.Lock()
		for {
			next := t.waitQ.PopEligible()
			if next == nil {
				break
			}
			k.wake(next, WakeupTimerTimeout)
		}
		t.lock.Unlock(prev)
	}
}

// TimerWait blocks self until t next fires (or times out after
// timeoutTicks). Intended for a task that wants to synchronize with a
// periodic timer without itself owning the callback. A Resume delivered
// while queued re-enters from the top to recheck t.active.
func (k *Kernel) TimerWait(t *Timer, self *Task, timeoutTicks int64) StatusCode {
	for {
		prev := t.lock.Lock()
		if !t.active {
			t.lock.Unlock(prev)
			return NOT_ACTIVE
		}
		self.onTimeout = func(task *Task, reason WakeupReason) {
			tPrev := t.lock.Lock()
			if t.waitQ.Remove(task) {
				k.wake(task, reason)
			}
			t.lock.Unlock(tPrev)
		}
		k.beginBlock(self, t.waitQ, BlockWaitForTimerTimeout, timeoutTicks)
		t.lock.Unlock(prev)

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
