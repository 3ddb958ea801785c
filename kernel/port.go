// Port interface: the architecture-specific collaborator the kernel consumes
// but never implements in hardware terms. Real firmware
// would provide atomic CAS, IRQ masking, a pendable context-switch trigger,
// tick timer setup and a stack-frame template written in assembly. Go cannot
// assemble a register file, so SimPort below stands in for all of it with a
// goroutine-and-channel simulation; the interface is kept narrow enough that
// a genuine bare-metal port (e.g. via cgo) could implement it instead.

package kernel

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

var errInvalidStackFrame = errors.New("kernel: nil task entry point")

// Port is the hardware abstraction the kernel calls into.
type Port interface {
	// AtomicCAS implements the single compare-and-swap primitive the
	// spinlock spins on under SMP.
	AtomicCAS(word *int32, expected, newVal int32) bool

	// IRQLock disables local interrupts and returns an opaque token that
	// must be handed back to IRQUnlock to restore the prior state.
	IRQLock() uint32

	// IRQUnlock restores local interrupts to the state captured by IRQLock.
	IRQUnlock(prev uint32)

	// TriggerContextSwitch notifies the port that core should re-enter the
	// scheduler at its next opportunity (a pendable exception locally, an
	// inter-processor interrupt across cores).
	TriggerContextSwitch(core int)

	// TickConfig configures the periodic tick source.
	TickConfig(period time.Duration)

	// CoreID returns the identifier of the core the calling goroutine is
	// standing in for. Only meaningful for goroutines registered with the
	// port as core dispatchers; tasks learn their core from the Task they
	// were dispatched as, not from this call.
	CoreID() int

	// InitStackFrame writes the initial register/stack-frame template for a
	// newly declared task. Real firmware places the entry PC, exit PC,
	// parameter and synthetic exception-return value at fixed offsets from
	// the top of stack; SimPort just validates the buffer since Go manages
	// the goroutine's real stack.
	InitStackFrame(stack []byte, entry func(*Kernel, *Task, any), param any) error
}

// SimPort is the only Port implementation this module ships: a simulation
// suitable for unit tests and for running the kernel as an ordinary Go
// program. AtomicCAS operates directly on each Spinlock's own word.
type SimPort struct {
	irqState  atomic.Uint32
	irqDepth  atomic.Int32
	switchCnt [MaxCores]atomic.Uint64
}

func NewSimPort() *SimPort {
	return &SimPort{}
}

func (p *SimPort) AtomicCAS(word *int32, expected, newVal int32) bool {
	return atomic.CompareAndSwapInt32(word, expected, newVal)
}

// IRQLock/IRQUnlock bookkeep nesting depth only. There is no way for a Go
// library to mask delivery of events to other goroutines short of holding a
// mutex those goroutines also take, and the kernel already uses dedicated
// locks (Spinlock, schedulerLock) for the actual exclusion the real IRQ mask
// would provide; this pair exists so call sites read the same as firmware.
func (p *SimPort) IRQLock() uint32 {
	depth := p.irqDepth.Add(1)
	return uint32(depth - 1)
}

func (p *SimPort) IRQUnlock(prev uint32) {
	p.irqDepth.Add(-1)
}

func (p *SimPort) TriggerContextSwitch(core int) {
	if core >= 0 && core < MaxCores {
		p.switchCnt[core].Add(1)
	}
	// Yield the OS thread so the newly-resumed task's goroutine is likely to
	// be scheduled promptly; purely a latency nicety, never required for
	// correctness (the actual handoff is the channel send the scheduler
	// performs right after calling this).
	runtime.Gosched()
}

func (p *SimPort) TickConfig(period time.Duration) {}

// CoreID has no meaning for SimPort: goroutines are not pinned to simulated
// cores, tasks are. Kept to satisfy Port; returns -1.
func (p *SimPort) CoreID() int { return -1 }

func (p *SimPort) InitStackFrame(stack []byte, entry func(*Kernel, *Task, any), param any) error {
	if entry == nil {
		return errInvalidStackFrame
	}
	return nil
}

// SwitchCount reports how many times TriggerContextSwitch fired for core,
// useful for tests asserting that a scenario actually caused a switch.
func (p *SimPort) SwitchCount(core int) uint64 {
	if core < 0 || core >= MaxCores {
		return 0
	}
	return p.switchCnt[core].Load()
}
