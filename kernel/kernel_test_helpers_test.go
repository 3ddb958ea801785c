package kernel

import (
	"context"
	"testing"
	"time"
)

// startTestKernel builds a Kernel with a fast tick period suited to tests,
// without starting it: tasks are added first, then runTestKernel starts it
// and arranges its shutdown at test cleanup.
func startTestKernel(t *testing.T, numCores int, enableSMP bool) *Kernel {
	t.Helper()
	port := NewSimPort()
	cfg := &KernelConfig{
		NumCores:   numCores,
		EnableSMP:  enableSMP,
		TickPeriod: time.Millisecond,
	}
	k, err := NewKernel(port, cfg, nil)
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	return k
}

// runTestKernel starts k in the background and arranges for it to be
// stopped at test cleanup.
func runTestKernel(t *testing.T, k *Kernel) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("kernel did not shut down in time")
		}
	})
}

// addTestTask is a small helper wrapping NewTask+AddTask for test bodies.
func addTestTask(t *testing.T, k *Kernel, cfg *TaskConfig, entry TaskEntry) *Task {
	t.Helper()
	task, err := NewTask(k.Port(), cfg, entry, nil)
	if err != nil {
		t.Fatalf("NewTask %q: %v", cfg.Name, err)
	}
	if err := k.AddTask(task); err != nil {
		t.Fatalf("AddTask %q: %v", cfg.Name, err)
	}
	return task
}

// waitOrTimeout fails the test if ch does not receive within d.
func waitOrTimeout(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatalf("timed out waiting for signal")
	}
}
