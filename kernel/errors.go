// Kernel return codes.
//
// Every task-side kernel call (blocking primitives, timer and task control)
// returns one of these instead of a Go error: this is a tiny RTOS core and
// the caller is nearly always a task running on the target, not a host
// process walking an error chain. Host-side setup calls (constructors,
// AddTask, Start) return a Go error instead. Wakeup reason dispatch inside
// a primitive is internal and never surfaces here.

package kernel

type StatusCode int

const (
	OK StatusCode = iota
	INVALID_ARG
	TIMEOUT
	EMPTY
	FULL
	NO_TASK
	BUSY
	NOT_OWNER
	NOT_ACTIVE
	ALREADY_ACTIVE
	NOT_SUSPENDED
	NO_SEMAPHORE
	NOT_LOCKED
	NO_MEMORY
)

var statusCodeNameMap = map[StatusCode]string{
	OK:             "OK",
	INVALID_ARG:    "INVALID_ARG",
	TIMEOUT:        "TIMEOUT",
	EMPTY:          "EMPTY",
	FULL:           "FULL",
	NO_TASK:        "NO_TASK",
	BUSY:           "BUSY",
	NOT_OWNER:      "NOT_OWNER",
	NOT_ACTIVE:     "NOT_ACTIVE",
	ALREADY_ACTIVE: "ALREADY_ACTIVE",
	NOT_SUSPENDED:  "NOT_SUSPENDED",
	NO_SEMAPHORE:   "NO_SEMAPHORE",
	NOT_LOCKED:     "NOT_LOCKED",
	NO_MEMORY:      "NO_MEMORY",
}

func (sc StatusCode) String() string {
	if name, ok := statusCodeNameMap[sc]; ok {
		return name
	}
	return "UNKNOWN"
}

// Error satisfies the error interface so a constructor that fails for a
// reason already named by a StatusCode (NO_MEMORY, INVALID_ARG) can return
// the code itself rather than wrapping it in a second, parallel error type.
func (sc StatusCode) Error() string { return sc.String() }
