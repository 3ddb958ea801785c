package kernel

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFiresCallbackPeriodically(t *testing.T) {
	k := startTestKernel(t, 1, false)
	var fireCount atomic.Int32

	timer, err := k.NewTimer("periodic", 5, false, func(tm *Timer, arg any) {
		fireCount.Add(1)
	}, nil)
	if err != nil {
		t.Fatalf("NewTimer: %v", err)
	}
	timer.Start()

	runTestKernel(t, k)
	time.Sleep(100 * time.Millisecond)

	if n := fireCount.Load(); n < 3 {
		t.Fatalf("fireCount = %d, want at least 3", n)
	}
}

func TestTimerOneShotFiresOnce(t *testing.T) {
	k := startTestKernel(t, 1, false)
	var fireCount atomic.Int32

	timer, err := k.NewTimer("oneshot", 5, true, func(tm *Timer, arg any) {
		fireCount.Add(1)
	}, nil)
	if err != nil {
		t.Fatalf("NewTimer: %v", err)
	}
	timer.Start()

	runTestKernel(t, k)
	time.Sleep(100 * time.Millisecond)

	if n := fireCount.Load(); n != 1 {
		t.Fatalf("fireCount = %d, want 1", n)
	}
	if timer.Active() {
		t.Fatalf("one-shot timer should be inactive after firing")
	}
}

func TestTimerStopPreventsFire(t *testing.T) {
	k := startTestKernel(t, 1, false)
	var fireCount atomic.Int32

	timer, err := k.NewTimer("stoppable", 50, true, func(tm *Timer, arg any) {
		fireCount.Add(1)
	}, nil)
	if err != nil {
		t.Fatalf("NewTimer: %v", err)
	}
	timer.Start()
	timer.Stop()

	runTestKernel(t, k)
	time.Sleep(100 * time.Millisecond)

	if n := fireCount.Load(); n != 0 {
		t.Fatalf("fireCount = %d, want 0 (timer was stopped)", n)
	}
}

func TestTimerStartStopPreconditions(t *testing.T) {
	k := startTestKernel(t, 1, false)
	timer, err := k.NewTimer("once", 50, true, func(tm *Timer, arg any) {}, nil)
	if err != nil {
		t.Fatalf("NewTimer: %v", err)
	}

	if got := timer.Stop(); got != NOT_ACTIVE {
		t.Fatalf("Stop before Start: got %v, want NOT_ACTIVE", got)
	}
	if got := timer.Start(); got != OK {
		t.Fatalf("Start: got %v, want OK", got)
	}
	if got := timer.Start(); got != ALREADY_ACTIVE {
		t.Fatalf("Start while active: got %v, want ALREADY_ACTIVE", got)
	}
	if got := timer.Stop(); got != OK {
		t.Fatalf("Stop: got %v, want OK", got)
	}
	if got := timer.Stop(); got != NOT_ACTIVE {
		t.Fatalf("Stop while already stopped: got %v, want NOT_ACTIVE", got)
	}
}

func TestNewTimerRespectsMaxTimers(t *testing.T) {
	port := NewSimPort()
	k, err := NewKernel(port, &KernelConfig{NumCores: 1, TickPeriod: time.Millisecond, MaxTimers: 1}, nil)
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	if _, err := k.NewTimer("first", 10, true, func(tm *Timer, arg any) {}, nil); err != nil {
		t.Fatalf("first NewTimer: %v", err)
	}
	if _, err := k.NewTimer("second", 10, true, func(tm *Timer, arg any) {}, nil); err != NO_MEMORY {
		t.Fatalf("second NewTimer: got %v, want NO_MEMORY", err)
	}
}

// TestTimerCallbackCanBlock proves the timer callback runs on a real task
// (not a detached goroutine unable to call a blocking primitive): it calls
// MutexLock with the timer task as self on a mutex another task held when
// the timer fired, which requires the timer task to be schedulable like any
// other task. On this single core the timer task is dispatched only after
// the holder has unlocked and gone to sleep, so the lock call finds the
// mutex free.
func TestTimerCallbackCanBlock(t *testing.T) {
	k := startTestKernel(t, 1, false)
	mutex := NewMutex(k.Port(), false)
	fired := make(chan struct{})

	release := make(chan struct{})
	addTestTask(t, k, &TaskConfig{Name: "holder", Priority: 10}, func(k *Kernel, self *Task, param any) {
		k.MutexLock(mutex, self, WaitForever)
		<-release
		k.MutexUnlock(mutex, self)
		for {
			k.Sleep(self, 1000)
		}
	})

	timer, err := k.NewTimer("blocking", 5, true, func(tm *Timer, arg any) {
		k.MutexLock(mutex, k.TimerTask(), WaitForever)
		k.MutexUnlock(mutex, k.TimerTask())
		close(fired)
	}, nil)
	if err != nil {
		t.Fatalf("NewTimer: %v", err)
	}
	timer.Start()

	runTestKernel(t, k)
	time.Sleep(20 * time.Millisecond)
	close(release)
	waitOrTimeout(t, fired, time.Second)
}

func TestTimerWaitWakesOnFire(t *testing.T) {
	k := startTestKernel(t, 1, false)
	timer, err := k.NewTimer("sync", 10, false, func(tm *Timer, arg any) {}, nil)
	if err != nil {
		t.Fatalf("NewTimer: %v", err)
	}
	timer.Start()

	result := make(chan StatusCode, 1)
	addTestTask(t, k, &TaskConfig{Name: "waiter", Priority: 10}, func(k *Kernel, self *Task, param any) {
		result <- k.TimerWait(timer, self, WaitForever)
		for {
			k.Sleep(self, 1000)
		}
	})

	runTestKernel(t, k)
	select {
	case got := <-result:
		if got != OK {
			t.Fatalf("got %v, want OK", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for TimerWait to return")
	}
}
