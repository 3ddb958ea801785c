// Task control: identity, status transitions, block/wakeup reason tagging.

package kernel

import (
	"fmt"

	"github.com/docker/go-units"
)

const (
	// MaxCores bounds the SMP model to two cores.
	MaxCores = 2

	// AffinityAny lets either core dispatch the task.
	AffinityAny int32 = -1

	// IdlePriority is reserved for the per-core idle tasks.
	IdlePriority int32 = 255

	// WaitForever is the wait-ticks sentinel for an unbounded wait.
	WaitForever int64 = -1
)

type Status int32

const (
	StatusReady Status = iota
	StatusRunning
	StatusBlocked
	StatusSuspended
)

var statusNameMap = map[Status]string{
	StatusReady:     "READY",
	StatusRunning:   "RUNNING",
	StatusBlocked:   "BLOCKED",
	StatusSuspended: "SUSPENDED",
}

func (s Status) String() string { return statusNameMap[s] }

type BlockReason int

const (
	BlockNone BlockReason = iota
	BlockSleep
	BlockWaitForSemaphore
	BlockWaitForMutex
	BlockWaitForMsgQueueData
	BlockWaitForMsgQueueSpace
	BlockWaitForCondVar
	BlockWaitForTimerTimeout
)

var blockReasonNameMap = map[BlockReason]string{
	BlockNone:                 "NONE",
	BlockSleep:                "SLEEP",
	BlockWaitForSemaphore:     "WAIT_FOR_SEMAPHORE",
	BlockWaitForMutex:         "WAIT_FOR_MUTEX",
	BlockWaitForMsgQueueData:  "WAIT_FOR_MSG_QUEUE_DATA",
	BlockWaitForMsgQueueSpace: "WAIT_FOR_MSG_QUEUE_SPACE",
	BlockWaitForCondVar:       "WAIT_FOR_COND_VAR",
	BlockWaitForTimerTimeout:  "WAIT_FOR_TIMER_TIMEOUT",
}

func (r BlockReason) String() string { return blockReasonNameMap[r] }

type WakeupReason int

const (
	WakeupNone WakeupReason = iota
	WakeupTimeout
	WakeupSleepTimeout
	WakeupSemaphoreTaken
	WakeupMutexLocked
	WakeupMsgQueueDataAvailable
	WakeupMsgQueueSpaceAvailable
	WakeupCondVarSignalled
	WakeupTimerTimeout
	WakeupResume
)

var wakeupReasonNameMap = map[WakeupReason]string{
	WakeupNone:                  "NONE",
	WakeupTimeout:               "WAIT_TIMEOUT",
	WakeupSleepTimeout:          "SLEEP_TIME_TIMEOUT",
	WakeupSemaphoreTaken:        "SEMAPHORE_TAKEN",
	WakeupMutexLocked:           "MUTEX_LOCKED",
	WakeupMsgQueueDataAvailable: "MSG_QUEUE_DATA_AVAILABLE",
	WakeupMsgQueueSpaceAvailable: "MSG_QUEUE_SPACE_AVAILABLE",
	WakeupCondVarSignalled:      "COND_VAR_SIGNALLED",
	WakeupTimerTimeout:          "TIMER_TIMEOUT",
	WakeupResume:                "RESUME",
}

func (r WakeupReason) String() string { return wakeupReasonNameMap[r] }

// TaskEntry is a statically-declared task body. It receives the kernel it is
// running under, a handle to itself (needed for every blocking call) and its
// opaque parameter. It is expected to loop and to suspend itself regularly
// via Sleep, a blocking primitive or an explicit Yield: nothing preempts it
// between those checkpoints on this port.
type TaskEntry func(k *Kernel, self *Task, param any)

// Task is an independently scheduled flow of execution with its own
// goroutine standing in for its own stack.
type Task struct {
	Name      string
	priority  int32 // mutable: boosted by priority inheritance
	basePrio  int32 // the default, pre-boost priority
	boosted   bool
	affinity  int32 // AffinityAny or a core index

	entry TaskEntry
	param any

	stackSize int

	status       Status
	blockReason  BlockReason
	wakeupReason WakeupReason
	// remainingTicks > 0 iff BLOCKED with a finite wait budget; WaitForever
	// (-1) iff BLOCKED with an unbounded wait; 0 otherwise. Mutated only
	// under schedulerLock.
	remainingTicks int64

	runningCore int32 // core currently running this task, or -1

	// Exactly one of these intrusive links is live at a time: schedNext
	// while the task sits in the scheduler's ready queue, waitNext while it
	// sits in a primitive's wait queue. A task suspended while also linked
	// into a primitive wait queue keeps that link; see DESIGN.md.
	schedNext *Task
	waitNext  *Task

	// resume is the task's run token: the scheduler sends on it exactly
	// once per dispatch, carrying the wakeup reason that applies (WakeupNone
	// for a first dispatch or a plain reschedule).
	resume chan WakeupReason

	// parked is the task's own signal that it has stopped running (blocked,
	// yielded or preempted at a checkpoint) and the dispatcher may resume
	// polling the ready queue for this core.
	parked chan struct{}

	// onTimeout, when set, is invoked by the tick handler instead of the
	// default wake when this task's remainingTicks reaches zero while
	// BLOCKED - the primitive that owns the wait queue this task is linked
	// into must be the one to unlink it. nil while sleeping or idle.
	onTimeout func(t *Task, reason WakeupReason)
}

// TaskConfig declares a task statically: a stack size, priority and core
// affinity fixed at definition time.
type TaskConfig struct {
	Name string `yaml:"name"`
	// Priority in [0,255], 0 highest. 255 is reserved for idle tasks.
	Priority int `yaml:"priority"`
	// Affinity: "any", or a core index ("0", "1").
	Affinity string `yaml:"affinity"`
	// StackSize accepts the usual k/m suffixes, e.g. "2KiB".
	StackSize string `yaml:"stack_size"`
}

func DefaultTaskConfig() *TaskConfig {
	return &TaskConfig{
		Affinity:  "any",
		StackSize: "4KiB",
	}
}

const minStackSize = 256

func parseAffinity(s string) (int32, error) {
	switch s {
	case "", "any":
		return AffinityAny, nil
	case "0":
		return 0, nil
	case "1":
		return 1, nil
	default:
		return 0, fmt.Errorf("invalid task affinity %q", s)
	}
}

// NewTask statically declares a task: validates its configuration, writes
// its (simulated) initial stack frame via the port and returns a Task ready
// to be registered with a Kernel.
func NewTask(port Port, cfg *TaskConfig, entry TaskEntry, param any) (*Task, error) {
	if cfg == nil {
		cfg = DefaultTaskConfig()
	}
	if entry == nil {
		return nil, fmt.Errorf("NewTask %q: nil entry", cfg.Name)
	}
	if cfg.Priority < 0 || cfg.Priority > 255 {
		return nil, fmt.Errorf("NewTask %q: priority %d out of [0,255]", cfg.Name, cfg.Priority)
	}
	affinity, err := parseAffinity(cfg.Affinity)
	if err != nil {
		return nil, fmt.Errorf("NewTask %q: %v", cfg.Name, err)
	}
	stackSize := cfg.StackSize
	if stackSize == "" {
		stackSize = DefaultTaskConfig().StackSize
	}
	sz, err := units.RAMInBytes(stackSize)
	if err != nil {
		return nil, fmt.Errorf("NewTask %q: invalid stack_size %q: %v", cfg.Name, stackSize, err)
	}
	if sz < minStackSize {
		return nil, fmt.Errorf("NewTask %q: stack_size %d below minimum %d", cfg.Name, sz, minStackSize)
	}

	stack := make([]byte, sz)
	if err := port.InitStackFrame(stack, entry, param); err != nil {
		return nil, fmt.Errorf("NewTask %q: %v", cfg.Name, err)
	}

	t := &Task{
		Name:        cfg.Name,
		priority:    int32(cfg.Priority),
		basePrio:    int32(cfg.Priority),
		affinity:    affinity,
		entry:       entry,
		param:       param,
		stackSize:   int(sz),
		status:      StatusSuspended,
		runningCore: -1,
		resume:      make(chan WakeupReason, 1),
		parked:      make(chan struct{}),
	}
	return t, nil
}

func newIdleTask(core int) *Task {
	return &Task{
		Name:        fmt.Sprintf("idle%d", core),
		priority:    IdlePriority,
		basePrio:    IdlePriority,
		affinity:    int32(core),
		status:      StatusSuspended,
		runningCore: -1,
		resume:      make(chan WakeupReason, 1),
		parked:      make(chan struct{}),
	}
}

// Priority returns the task's current (possibly boosted) priority.
func (t *Task) Priority() int32 { return t.priority }

// Status returns the task's current scheduling status.
func (t *Task) Status() Status { return t.status }

// BlockReason returns the reason the task most recently blocked for.
func (t *Task) BlockReason() BlockReason { return t.blockReason }

// WakeupReason returns the reason the task most recently woke for.
func (t *Task) WakeupReason() WakeupReason { return t.wakeupReason }
