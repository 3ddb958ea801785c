package kernel

import (
	"testing"
	"time"
)

func TestSuspendResumeBlockedTask(t *testing.T) {
	k := startTestKernel(t, 1, false)
	sem := NewSemaphore(k.Port(), false, 0, 0)
	ran := make(chan struct{})

	task := addTestTask(t, k, &TaskConfig{Name: "worker", Priority: 10}, func(k *Kernel, self *Task, param any) {
		k.SemaphoreTake(sem, self, WaitForever)
		close(ran)
		for {
			k.Sleep(self, 1000)
		}
	})

	runTestKernel(t, k)
	time.Sleep(20 * time.Millisecond) // let worker block on the semaphore

	if got := k.Suspend(task, nil); got != OK {
		t.Fatalf("Suspend: got %v, want OK", got)
	}
	if got := task.Status(); got != StatusSuspended {
		t.Fatalf("status after Suspend = %v, want SUSPENDED", got)
	}

	// A Give while the only waiter is suspended must not wake it: there is
	// no eligible waiter, so the count simply goes up.
	k.SemaphoreGive(sem, nil)
	select {
	case <-ran:
		t.Fatalf("suspended task ran before Resume")
	case <-time.After(30 * time.Millisecond):
	}
	if got := sem.Count(); got != 1 {
		t.Fatalf("count = %d, want 1 (Give found no eligible waiter)", got)
	}

	if got := k.Resume(task); got != OK {
		t.Fatalf("Resume: got %v, want OK", got)
	}
	waitOrTimeout(t, ran, time.Second)
}

func TestSuspendBlockedWaiterSkippedThenResumedRetries(t *testing.T) {
	k := startTestKernel(t, 1, false)
	sem := NewSemaphore(k.Port(), false, 0, 0)
	woke := make(chan string, 2)

	a := addTestTask(t, k, &TaskConfig{Name: "a", Priority: 1}, func(k *Kernel, self *Task, param any) {
		k.SemaphoreTake(sem, self, WaitForever)
		woke <- "a"
		for {
			k.Sleep(self, 1000)
		}
	})
	addTestTask(t, k, &TaskConfig{Name: "b", Priority: 10}, func(k *Kernel, self *Task, param any) {
		k.SemaphoreTake(sem, self, WaitForever)
		woke <- "b"
		for {
			k.Sleep(self, 1000)
		}
	})

	runTestKernel(t, k)
	time.Sleep(20 * time.Millisecond) // let both block, a ahead of b (higher priority)

	if got := k.Suspend(a, nil); got != OK {
		t.Fatalf("Suspend: got %v, want OK", got)
	}

	// a outranks b but is suspended: Give must skip it and wake b instead.
	k.SemaphoreGive(sem, nil)
	select {
	case name := <-woke:
		if name != "b" {
			t.Fatalf("got %q, want %q (a is suspended and must be skipped)", name, "b")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for b to wake")
	}

	// Resuming a re-enters SemaphoreTake from scratch; the semaphore is
	// empty again so it goes back to blocking.
	if got := k.Resume(a); got != OK {
		t.Fatalf("Resume: got %v, want OK", got)
	}
	select {
	case name := <-woke:
		t.Fatalf("a woke with nothing given: %q", name)
	case <-time.After(30 * time.Millisecond):
	}

	k.SemaphoreGive(sem, nil)
	select {
	case name := <-woke:
		if name != "a" {
			t.Fatalf("got %q, want %q", name, "a")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a to wake after resume")
	}
}

func TestResumeNotSuspendedTaskFails(t *testing.T) {
	k := startTestKernel(t, 1, false)
	task := addTestTask(t, k, &TaskConfig{Name: "worker", Priority: 10}, func(k *Kernel, self *Task, param any) {
		for {
			k.Sleep(self, 1000)
		}
	})
	runTestKernel(t, k)
	time.Sleep(10 * time.Millisecond)

	if got := k.Resume(task); got != NOT_SUSPENDED {
		t.Fatalf("Resume on a non-suspended task: got %v, want NOT_SUSPENDED", got)
	}
}

func TestSuspendSelfThenResume(t *testing.T) {
	k := startTestKernel(t, 1, false)
	resumed := make(chan struct{})
	var self *Task

	task := addTestTask(t, k, &TaskConfig{Name: "worker", Priority: 10}, func(k *Kernel, selfTask *Task, param any) {
		self = selfTask
		k.Suspend(selfTask, selfTask)
		close(resumed)
		for {
			k.Sleep(selfTask, 1000)
		}
	})
	runTestKernel(t, k)
	time.Sleep(20 * time.Millisecond)

	if got := task.Status(); got != StatusSuspended {
		t.Fatalf("status = %v, want SUSPENDED", got)
	}
	if got := k.Resume(self); got != OK {
		t.Fatalf("Resume: got %v, want OK", got)
	}
	waitOrTimeout(t, resumed, time.Second)
}
