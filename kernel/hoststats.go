// Host introspection: an optional task that samples the machine the
// simulation runs on (not the simulated target) and keeps the latest
// sample for LastHostStats; only failed samples are logged. Purely a
// convenience for running the kernel as an ordinary long-lived Go process;
// it has no effect on scheduling.

package kernel

import (
	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/memory"
	"github.com/tklauser/go-sysconf"
)

// DetectAvailableCores asks the OS how many processors are online, via the
// same sysconf(3) call real embedded tooling uses, and clamps it to
// MaxCores since this kernel never models more than two.
func DetectAvailableCores() int {
	n, err := sysconf.Sysconf(sysconf.SC_NPROCESSORS_ONLN)
	if err != nil || n <= 0 {
		return 1
	}
	if n > int64(MaxCores) {
		return MaxCores
	}
	return int(n)
}

// HostStats is a snapshot of the host process/machine, refreshed once per
// sampling period of the task added by AddHostStatsTask.
type HostStats struct {
	CPUUser   uint64
	CPUSystem uint64
	CPUIdle   uint64
	MemUsed   uint64
	MemTotal  uint64
}

// hostStatsTask holds the last sample under a lock, readable via
// LastHostStats without synchronizing with the sampling task itself.
type hostStatsTask struct {
	k         *Kernel
	periodTk  uint32
	lock      *Spinlock
	last      HostStats
}

func newHostStatsTask(k *Kernel, periodTicks uint32) *hostStatsTask {
	return &hostStatsTask{k: k, periodTk: periodTicks, lock: NewSpinlock(k.port, k.enableSMP)}
}

// LastHostStats returns the most recently sampled host stats.
func (h *hostStatsTask) LastHostStats() HostStats {
	prev := h.lock.Lock()
	defer h.lock.Unlock(prev)
	return h.last
}

func (h *hostStatsTask) run(k *Kernel, self *Task, param any) {
	log := NewCompLogger("hoststats")
	for {
		k.Sleep(self, h.periodTk)

		sample := HostStats{}
		if c, err := cpu.Get(); err == nil {
			sample.CPUUser = c.User
			sample.CPUSystem = c.System
			sample.CPUIdle = c.Idle
		} else {
			log.WithError(err).Debug("cpu sample failed")
		}
		if m, err := memory.Get(); err == nil {
			sample.MemUsed = m.Used
			sample.MemTotal = m.Total
		} else {
			log.WithError(err).Debug("memory sample failed")
		}

		prev := h.lock.Lock()
		h.last = sample
		h.lock.Unlock(prev)
	}
}

// AddHostStatsTask declares and registers the host-stats sampling task,
// running every periodTicks ticks at the given priority/affinity.
func (k *Kernel) AddHostStatsTask(cfg *TaskConfig, periodTicks uint32) (*hostStatsTask, error) {
	h := newHostStatsTask(k, periodTicks)
	t, err := NewTask(k.port, cfg, h.run, nil)
	if err != nil {
		return nil, err
	}
	if err := k.AddTask(t); err != nil {
		return nil, err
	}
	return h, nil
}
