package kernel

import (
	"testing"
	"time"
)

func TestCondVarSignalWakesOneWaiter(t *testing.T) {
	k := startTestKernel(t, 1, false)
	mutex := NewMutex(k.Port(), false)
	cv := NewCondVar(k.Port(), false)

	ready := false
	waiterDone := make(chan struct{})

	addTestTask(t, k, &TaskConfig{Name: "waiter", Priority: 10}, func(k *Kernel, self *Task, param any) {
		k.MutexLock(mutex, self, WaitForever)
		for !ready {
			k.CondVarWait(cv, self, mutex, WaitForever)
		}
		k.MutexUnlock(mutex, self)
		close(waiterDone)
		for {
			k.Sleep(self, 1000)
		}
	})
	addTestTask(t, k, &TaskConfig{Name: "signaller", Priority: 10}, func(k *Kernel, self *Task, param any) {
		time.Sleep(20 * time.Millisecond) // let the waiter block first
		k.MutexLock(mutex, self, WaitForever)
		ready = true
		k.MutexUnlock(mutex, self)
		k.CondVarSignal(cv)
		for {
			k.Sleep(self, 1000)
		}
	})

	runTestKernel(t, k)
	waitOrTimeout(t, waiterDone, time.Second)
}

func TestCondVarBroadcastWakesAllWaiters(t *testing.T) {
	k := startTestKernel(t, 1, false)
	mutex := NewMutex(k.Port(), false)
	cv := NewCondVar(k.Port(), false)
	ready := false
	woken := make(chan string, 2)

	mkWaiter := func(name string) TaskEntry {
		return func(k *Kernel, self *Task, param any) {
			k.MutexLock(mutex, self, WaitForever)
			for !ready {
				k.CondVarWait(cv, self, mutex, WaitForever)
			}
			k.MutexUnlock(mutex, self)
			woken <- name
			for {
				k.Sleep(self, 1000)
			}
		}
	}
	addTestTask(t, k, &TaskConfig{Name: "w1", Priority: 10}, mkWaiter("w1"))
	addTestTask(t, k, &TaskConfig{Name: "w2", Priority: 10}, mkWaiter("w2"))
	addTestTask(t, k, &TaskConfig{Name: "signaller", Priority: 10}, func(k *Kernel, self *Task, param any) {
		time.Sleep(20 * time.Millisecond)
		k.MutexLock(mutex, self, WaitForever)
		ready = true
		k.MutexUnlock(mutex, self)
		k.CondVarBroadcast(cv)
		for {
			k.Sleep(self, 1000)
		}
	})

	runTestKernel(t, k)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-woken:
			seen[name] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out, woken so far: %v", seen)
		}
	}
	if !seen["w1"] || !seen["w2"] {
		t.Fatalf("expected both waiters woken, got %v", seen)
	}
}

func TestCondVarSignalOnEmptyReturnsNoTask(t *testing.T) {
	k := startTestKernel(t, 1, false)
	cv := NewCondVar(k.Port(), false)

	if got := k.CondVarSignal(cv); got != NO_TASK {
		t.Fatalf("Signal on empty: got %v, want NO_TASK", got)
	}
	if got := k.CondVarBroadcast(cv); got != NO_TASK {
		t.Fatalf("Broadcast on empty: got %v, want NO_TASK", got)
	}
}

func TestCondVarWaitTimeout(t *testing.T) {
	k := startTestKernel(t, 1, false)
	mutex := NewMutex(k.Port(), false)
	cv := NewCondVar(k.Port(), false)
	result := make(chan StatusCode, 1)

	addTestTask(t, k, &TaskConfig{Name: "waiter", Priority: 10}, func(k *Kernel, self *Task, param any) {
		k.MutexLock(mutex, self, WaitForever)
		result <- k.CondVarWait(cv, self, mutex, 10)
		k.MutexUnlock(mutex, self)
		for {
			k.Sleep(self, 1000)
		}
	})
	runTestKernel(t, k)
	select {
	case got := <-result:
		if got != TIMEOUT {
			t.Fatalf("got %v, want TIMEOUT", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for result")
	}
}
