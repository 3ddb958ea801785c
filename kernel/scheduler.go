// The scheduler: ready queue, per-core dispatch loop, tick handling and the
// block/wake plumbing every primitive in this package is built from.
//
// Locking order is fixed and never reversed: a primitive's own Spinlock (if
// any) is always acquired before schedulerLock. A Task's scheduling fields
// are only touched with schedulerLock held: beginBlock takes it itself,
// wakeLocked expects the caller to hold it, and Yield, Suspend, Resume and
// the dispatch loop take it around their own updates.

package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Kernel owns the ready queue, the set of declared tasks and the per-core
// dispatch loops. One Kernel simulates one target image.
type Kernel struct {
	port Port
	log  *logrus.Entry

	schedulerLock *Spinlock
	ready         *TaskQueue

	numCores  int
	enableSMP bool
	current   [MaxCores]*Task
	idle      [MaxCores]*Task
	coreKick  [MaxCores]chan struct{}

	allTasks []*Task

	tickPeriod time.Duration
	ticks      uint64

	timersLock  *Spinlock
	timers      []*Timer
	maxTimers   int
	firedTimers []*Timer
	timerSem    *Semaphore
	timerTask   *Task

	stats *kernelStats

	startOnce sync.Once
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// KernelConfig mirrors the ambient config loaded via YAML; see config.go for
// LoadConfig.
type KernelConfig struct {
	NumCores   int           `yaml:"num_cores"`
	EnableSMP  bool          `yaml:"enable_smp"`
	TickPeriod time.Duration `yaml:"tick_period"`
	// MaxTimers caps how many software timers NewTimer will hand out before
	// failing with NO_MEMORY, modeling a statically-sized timer-control-block
	// pool. Zero means unbounded.
	MaxTimers int `yaml:"max_timers"`
}

func DefaultKernelConfig() *KernelConfig {
	return &KernelConfig{
		NumCores:   1,
		EnableSMP:  false,
		TickPeriod: time.Millisecond,
	}
}

// NewKernel constructs a Kernel around port. cfg may be nil for defaults.
func NewKernel(port Port, cfg *KernelConfig, log *logrus.Entry) (*Kernel, error) {
	if port == nil {
		return nil, fmt.Errorf("NewKernel: nil port")
	}
	if cfg == nil {
		cfg = DefaultKernelConfig()
	}
	if cfg.NumCores < 1 || cfg.NumCores > MaxCores {
		return nil, fmt.Errorf("NewKernel: num_cores %d out of [1,%d]", cfg.NumCores, MaxCores)
	}
	if cfg.NumCores < 2 && cfg.EnableSMP {
		return nil, fmt.Errorf("NewKernel: enable_smp requires num_cores 2")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	k := &Kernel{
		port:          port,
		log:           log.WithField("component", "kernel"),
		schedulerLock: NewSpinlock(port, cfg.EnableSMP),
		ready:         NewReadyQueue(),
		numCores:      cfg.NumCores,
		enableSMP:     cfg.EnableSMP,
		tickPeriod:    cfg.TickPeriod,
		timersLock:    NewSpinlock(port, cfg.EnableSMP),
		maxTimers:     cfg.MaxTimers,
		timerSem:      NewSemaphore(port, cfg.EnableSMP, 0, 0),
		stats:         newKernelStats(),
	}
	for c := 0; c < k.numCores; c++ {
		k.coreKick[c] = make(chan struct{}, 1)
		k.idle[c] = newIdleTask(c)
		k.idle[c].entry = idleEntry
		k.allTasks = append(k.allTasks, k.idle[c])
	}

	// The timer task runs at the highest priority so a fired timer's
	// callback, which may take mutexes and call other blocking primitives,
	// is dispatched promptly instead of sitting behind ordinary application
	// work.
	timerTask, err := NewTask(port, &TaskConfig{
		Name:     "timer",
		Priority: 0,
		Affinity: "any",
	}, timerTaskEntry, nil)
	if err != nil {
		return nil, fmt.Errorf("NewKernel: %v", err)
	}
	k.timerTask = timerTask
	k.allTasks = append(k.allTasks, timerTask)

	return k, nil
}

// AddTask registers a statically-declared task. Must be called before
// Start: there is no dynamic task creation once the scheduler is running.
func (k *Kernel) AddTask(t *Task) error {
	if k.started {
		return fmt.Errorf("AddTask %q: kernel already started", t.Name)
	}
	if t.affinity != AffinityAny && (t.affinity < 0 || int(t.affinity) >= k.numCores) {
		return fmt.Errorf("AddTask %q: affinity %d out of range for %d cores", t.Name, t.affinity, k.numCores)
	}
	k.allTasks = append(k.allTasks, t)
	return nil
}

func (k *Kernel) kick(core int) {
	select {
	case k.coreKick[core] <- struct{}{}:
	default:
	}
}

func (k *Kernel) kickAll() {
	for c := 0; c < k.numCores; c++ {
		k.kick(c)
	}
}

// selectNextLocked picks the highest-priority ready task eligible to run on
// core, or that core's idle task if none is ready. Must hold schedulerLock.
func (k *Kernel) selectNextLocked(core int) *Task {
	var prev *Task
	for t := k.ready.Peek(); t != nil; t = t.schedNext {
		if t.affinity == AffinityAny || int(t.affinity) == core {
			if prev == nil {
				k.ready.Pop()
			} else {
				prev.schedNext = t.schedNext
				t.schedNext = nil
			}
			return t
		}
		prev = t
	}
	return k.idle[core]
}

// maybePreemptLocked triggers a context switch on any core whose current
// task is lower priority (or idle) than the new head of the ready queue.
// Must hold schedulerLock.
func (k *Kernel) maybePreemptLocked() {
	head := k.ready.Peek()
	if head == nil {
		return
	}
	for c := 0; c < k.numCores; c++ {
		if head.affinity != AffinityAny && int(head.affinity) != c {
			continue
		}
		cur := k.current[c]
		if cur == nil || head.priority < cur.priority {
			k.stats.incPreempt(c)
			k.port.TriggerContextSwitch(c)
			k.kick(c)
			return
		}
	}
}

// beginBlock transitions self to BLOCKED, links it into waitQ and clears it
// from the running core, all under schedulerLock. timeoutTicks is
// WaitForever for an unbounded wait. Must be called with self currently
// RUNNING and with any
// primitive spinlock the caller holds still held (schedulerLock nests
// inside it).
func (k *Kernel) beginBlock(self *Task, waitQ *TaskQueue, reason BlockReason, timeoutTicks int64) {
	prev := k.schedulerLock.Lock()
	self.status = StatusBlocked
	self.blockReason = reason
	self.remainingTicks = timeoutTicks
	if waitQ != nil {
		waitQ.Add(self)
	}
	core := self.runningCore
	if core >= 0 {
		k.current[core] = nil
	}
	self.runningCore = -1
	k.schedulerLock.Unlock(prev)
}

// wakeLocked moves t from wherever it was (already unlinked by the caller)
// to the ready queue. Must hold schedulerLock.
func (k *Kernel) wakeLocked(t *Task, reason WakeupReason) {
	t.status = StatusReady
	t.blockReason = BlockNone
	t.wakeupReason = reason
	t.remainingTicks = 0
	k.ready.Add(t)
	k.maybePreemptLocked()
}

// wake takes schedulerLock itself; used by callers (timer timeout, Resume)
// that do not already hold it nested inside a primitive lock.
func (k *Kernel) wake(t *Task, reason WakeupReason) {
	prev := k.schedulerLock.Lock()
	k.wakeLocked(t, reason)
	k.schedulerLock.Unlock(prev)
}

// parkSelf hands control back to the dispatcher and blocks until the next
// dispatch, returning the wakeup reason that applied. The caller must have
// already performed any scheduling-state mutation (ready-queue insertion or
// beginBlock) before calling this - parkSelf itself changes no state.
func (k *Kernel) parkSelf(self *Task) WakeupReason {
	self.parked <- struct{}{}
	return <-self.resume
}

// Yield voluntarily gives up the remainder of self's current turn. Other
// ready tasks of equal priority get a chance to run before self does again.
func (k *Kernel) Yield(self *Task) {
	prev := k.schedulerLock.Lock()
	self.status = StatusReady
	self.wakeupReason = WakeupNone
	core := self.runningCore
	if core >= 0 {
		k.current[core] = nil
	}
	self.runningCore = -1
	k.ready.Add(self)
	k.schedulerLock.Unlock(prev)
	k.parkSelf(self)
}

// Sleep blocks self for the given number of ticks. TIMEOUT wakeups do not
// apply to Sleep; it ends in SLEEP_TIME_TIMEOUT, or early with RESUME if
// the task is suspended and then resumed while it sleeps.
func (k *Kernel) Sleep(self *Task, ticks uint32) {
	if ticks == 0 {
		k.Yield(self)
		return
	}
	k.beginBlock(self, nil, BlockSleep, int64(ticks))
	k.parkSelf(self)
}

func idleEntry(k *Kernel, self *Task, param any) {
	core := int(self.affinity)
	for {
		<-k.coreKick[core]
		k.parkSelf(self)
	}
}

// runTask is the permanent goroutine standing in for a task's own stack: it
// waits for its first dispatch, then hands control to the task's entry
// point, which is expected to loop forever, calling back into the kernel at
// every checkpoint (Yield, Sleep, a primitive's blocking call).
func (k *Kernel) runTask(t *Task) {
	reason, ok := <-t.resume
	if !ok {
		return
	}
	t.wakeupReason = reason
	t.entry(k, t, t.param)
	// A task entry returning is a programming error on real hardware (the
	// exit vector traps); here we just stop scheduling it.
	prev := k.schedulerLock.Lock()
	t.status = StatusSuspended
	k.schedulerLock.Unlock(prev)
}

// dispatch is the per-core loop: pick the next task, hand it the run token,
// wait for it to park, repeat. There is exactly one dispatch goroutine per
// configured core.
func (k *Kernel) dispatch(ctx context.Context, core int) {
	defer k.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		prev := k.schedulerLock.Lock()
		t := k.selectNextLocked(core)
		t.status = StatusRunning
		t.runningCore = int32(core)
		k.current[core] = t
		reason := t.wakeupReason
		k.schedulerLock.Unlock(prev)

		k.stats.incDispatch(core)

		select {
		case t.resume <- reason:
		case <-ctx.Done():
			return
		}

		select {
		case <-t.parked:
		case <-ctx.Done():
			return
		}
	}
}

// tickLoop advances the tick counter and expires per-task sleep/wait
// timeouts. Runs on its own goroutine rather than a core dispatcher so it
// keeps firing even while every core is legitimately busy.
func (k *Kernel) tickLoop(ctx context.Context) {
	defer k.wg.Done()
	ticker := time.NewTicker(k.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.tick()
		}
	}
}

// tick is the scheduler's periodic heartbeat: it decrements every blocked
// task's remaining-ticks budget and wakes the ones that hit zero. Walking
// allTasks rather than a dedicated blocked-queue is only correct because the
// task set is fixed at Start (no dynamic creation, a handful of tasks) - see
// DESIGN.md.
func (k *Kernel) tick() {
	prev := k.schedulerLock.Lock()
	k.ticks++
	var expired []*Task
	for _, t := range k.allTasks {
		if t.status != StatusBlocked || t.remainingTicks <= 0 {
			continue
		}
		t.remainingTicks--
		if t.remainingTicks == 0 {
			expired = append(expired, t)
		}
	}
	k.schedulerLock.Unlock(prev)

	for _, t := range expired {
		k.expireWait(t)
	}

	k.tickTimers()
}

// expireWait is invoked (outside any primitive lock) when a task's timeout
// elapsed. It must remove the task from whatever primitive wait queue it is
// still linked into; each primitive registers a remover via onTimeout so
// the generic scheduler code never needs to know primitive internals.
func (k *Kernel) expireWait(t *Task) {
	reason := WakeupTimeout
	if t.blockReason == BlockSleep {
		reason = WakeupSleepTimeout
	}
	if t.onTimeout != nil {
		t.onTimeout(t, reason)
		return
	}
	k.wake(t, reason)
}

// Suspend pulls t out of scheduling until a matching Resume, regardless of
// whether t is currently READY, BLOCKED on a primitive, or already
// SUSPENDED (a no-op). A task already linked into a primitive's wait queue
// keeps that link; PopEligible is what makes it invisible to a waking
// Give/Unlock/Signal in the meantime, see taskqueue.go.
//
// Suspending a task currently RUNNING is only supported for self (t ==
// self): there is no preemption outside a checkpoint on this port, so
// another core can't be stopped mid-task. Suspending some other task that
// happens to be RUNNING returns BUSY; the caller may retry once it yields
// or blocks.
func (k *Kernel) Suspend(t *Task, self *Task) StatusCode {
	prev := k.schedulerLock.Lock()
	switch t.status {
	case StatusSuspended:
		k.schedulerLock.Unlock(prev)
		return OK
	case StatusReady:
		k.ready.Remove(t)
		t.status = StatusSuspended
		k.schedulerLock.Unlock(prev)
		return OK
	case StatusBlocked:
		t.status = StatusSuspended
		k.schedulerLock.Unlock(prev)
		return OK
	case StatusRunning:
		if t != self {
			k.schedulerLock.Unlock(prev)
			k.log.WithField("task", t.Name).Debug("Suspend: target running on another core, caller must retry")
			return BUSY
		}
		core := t.runningCore
		if core >= 0 {
			k.current[core] = nil
		}
		t.runningCore = -1
		t.status = StatusSuspended
		k.schedulerLock.Unlock(prev)
		k.parkSelf(self)
		return OK
	default:
		k.schedulerLock.Unlock(prev)
		return OK
	}
}

// Resume re-queues a SUSPENDED task as READY with wakeup reason RESUME.
// Returns NOT_SUSPENDED if t isn't currently suspended. A task suspended
// while linked into a primitive's wait queue is unlinked through that
// primitive's own onTimeout hook (the same hook a timeout uses) so the
// unlink and the wake happen under the primitive's lock, preserving the
// fixed lock order; a task with no such hook (suspended while READY,
// RUNNING or sleeping) is woken directly. Either way the primitive call the
// task was in the middle of sees WakeupResume and retries from scratch.
func (k *Kernel) Resume(t *Task) StatusCode {
	prev := k.schedulerLock.Lock()
	if t.status != StatusSuspended {
		k.schedulerLock.Unlock(prev)
		return NOT_SUSPENDED
	}
	hook := t.onTimeout
	k.schedulerLock.Unlock(prev)

	if hook != nil {
		hook(t, WakeupResume)
	} else {
		k.wake(t, WakeupResume)
	}
	return OK
}

// Start launches the dispatch loop for every configured core plus the tick
// loop, then blocks until ctx is cancelled or Shutdown is called.
func (k *Kernel) Start(ctx context.Context) error {
	if k.started {
		return fmt.Errorf("Start: already started")
	}
	k.started = true
	ctx, cancel := context.WithCancel(ctx)
	k.cancel = cancel

	k.port.TickConfig(k.tickPeriod)

	for _, t := range k.allTasks {
		go k.runTask(t)
	}
	for c := 0; c < k.numCores; c++ {
		k.wg.Add(1)
		go k.dispatch(ctx, c)
	}
	k.wg.Add(1)
	go k.tickLoop(ctx)

	k.kickInitial()

	<-ctx.Done()
	k.wg.Wait()
	return nil
}

// kickInitial puts every non-idle task on the ready queue so the dispatch
// loops have something to pick up.
func (k *Kernel) kickInitial() {
	prev := k.schedulerLock.Lock()
	for _, t := range k.allTasks {
		if t.priority == IdlePriority {
			continue
		}
		t.status = StatusReady
		k.ready.Add(t)
	}
	k.schedulerLock.Unlock(prev)
	k.kickAll()
}

// Shutdown stops every dispatch loop and the tick loop. Tasks parked inside
// a blocking call remain parked; this is meant for clean test teardown, not
// a graceful in-band stop request.
func (k *Kernel) Shutdown() {
	if k.cancel != nil {
		k.cancel()
	}
}

// Port returns the port this kernel was constructed with, so callers can
// build primitives and tasks that share its IRQ/CAS bookkeeping.
func (k *Kernel) Port() Port { return k.port }

// EnableSMP reports whether this kernel was configured for two-core SMP.
func (k *Kernel) EnableSMP() bool { return k.enableSMP }

// Ticks reports the number of elapsed scheduler ticks, for tests and the
// host-stats introspection task.
func (k *Kernel) Ticks() uint64 {
	prev := k.schedulerLock.Lock()
	n := k.ticks
	k.schedulerLock.Unlock(prev)
	return n
}
