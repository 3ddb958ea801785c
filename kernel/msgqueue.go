// MessageQueue: a bounded ring buffer of fixed-size messages, with separate
// wait queues for "data available" and "space available" since a task can
// be waiting on either but never both at once.

package kernel

import "fmt"

type MessageQueue struct {
	lock     *Spinlock
	dataQ    *TaskQueue
	spaceQ   *TaskQueue
	buf      [][]byte
	msgSize  int
	capacity int
	head     int
	count    int
}

// NewMessageQueue creates a queue holding up to capacity messages of
// msgSize bytes each, backed by the caller-supplied buf (a contiguous
// region of at least capacity*msgSize bytes, the way a statically declared
// queue would carve its storage out of a fixed array rather than the
// kernel allocating it). Returns NO_MEMORY if buf is nil or undersized.
func NewMessageQueue(port Port, enableSMP bool, buf []byte, capacity, msgSize int) (*MessageQueue, error) {
	if capacity <= 0 || msgSize <= 0 {
		return nil, fmt.Errorf("NewMessageQueue: capacity and msgSize must be positive")
	}
	if buf == nil || len(buf) < capacity*msgSize {
		return nil, NO_MEMORY
	}
	slots := make([][]byte, capacity)
	for i := range slots {
		slots[i] = buf[i*msgSize : (i+1)*msgSize : (i+1)*msgSize]
	}
	return &MessageQueue{
		lock:     NewSpinlock(port, enableSMP),
		dataQ:    NewWaitQueue(),
		spaceQ:   NewWaitQueue(),
		buf:      slots,
		msgSize:  msgSize,
		capacity: capacity,
	}, nil
}

func (q *MessageQueue) slotLocked(idx int) int {
	return (q.head + idx) % q.capacity
}

// Send copies msg (zero-padded to msgSize) into the queue; a msg longer
// than msgSize is rejected with INVALID_ARG. It blocks up to timeoutTicks
// ticks if the queue is full (zero ticks tries once
// and fails with FULL rather than block). A Resume delivered while queued
// re-enters from the top to recheck capacity.
func (k *Kernel) MsgQueueSend(q *MessageQueue, self *Task, msg []byte, timeoutTicks int64) StatusCode {
	if len(msg) > q.msgSize {
		return INVALID_ARG
	}
	for {
		prev := q.lock.Lock()

		if q.count < q.capacity {
			slot := q.buf[q.slotLocked(q.count)]
			n := copy(slot, msg)
			for ; n < len(slot); n++ {
				slot[n] = 0
			}
			q.count++
			if t := q.dataQ.PopEligible(); t != nil {
				k.wake(t, WakeupMsgQueueDataAvailable)
			}
			q.lock.Unlock(prev)
			return OK
		}

		if timeoutTicks == 0 {
			q.lock.Unlock(prev)
			return FULL
		}

		self.onTimeout = func(t *Task, reason WakeupReason) {
			qPrev := q.lock.Lock()
			if q.spaceQ.Remove(t) {
				k.wake(t, reason)
			}
			q.lock.Unlock(qPrev)
		}
		k.beginBlock(self, q.spaceQ, BlockWaitForMsgQueueSpace, timeoutTicks)
		q.lock.Unlock(prev)

		reason := k.parkSelf(self)
		self.onTimeout = nil
		switch reason {
		case WakeupTimeout:
			return TIMEOUT
		case WakeupResume:
			continue
		default:
			return k.msgQueueSendAfterWake(q, msg)
		}
	}
}

// msgQueueSendAfterWake performs the actual enqueue once a waiting sender
// has been granted space; it re-takes the lock because the wake that freed
// the slot happened on a different goroutine (the receiver's).
func (k *Kernel) msgQueueSendAfterWake(q *MessageQueue, msg []byte) StatusCode {
	prev := q.lock.Lock()
	defer q.lock.Unlock(prev)
	if q.count >= q.capacity {
		return FULL
	}
	slot := q.buf[q.slotLocked(q.count)]
	n := copy(slot, msg)
	for ; n < len(slot); n++ {
		slot[n] = 0
	}
	q.count++
	if t := q.dataQ.PopEligible(); t != nil {
		k.wake(t, WakeupMsgQueueDataAvailable)
	}
	return OK
}

// Receive copies the oldest message into dst (which must be at least
// msgSize bytes), blocking up to timeoutTicks ticks if the queue is empty
// (zero ticks tries once and fails with EMPTY rather than block). A Resume
// delivered while queued re-enters from the top to recheck count.
func (k *Kernel) MsgQueueReceive(q *MessageQueue, self *Task, dst []byte, timeoutTicks int64) StatusCode {
	if len(dst) < q.msgSize {
		return INVALID_ARG
	}
	for {
		prev := q.lock.Lock()

		if q.count > 0 {
			copy(dst, q.buf[q.head])
			q.head = (q.head + 1) % q.capacity
			q.count--
			if t := q.spaceQ.PopEligible(); t != nil {
				k.wake(t, WakeupMsgQueueSpaceAvailable)
			}
			q.lock.Unlock(prev)
			return OK
		}

		if timeoutTicks == 0 {
			q.lock.Unlock(prev)
			return EMPTY
		}

		self.onTimeout = func(t *Task, reason WakeupReason) {
			qPrev := q.lock.Lock()
			if q.dataQ.Remove(t) {
				k.wake(t, reason)
			}
			q.lock.Unlock(qPrev)
		}
		k.beginBlock(self, q.dataQ, BlockWaitForMsgQueueData, timeoutTicks)
		q.lock.Unlock(prev)

		reason := k.parkSelf(self)
		self.onTimeout = nil
		switch reason {
		case WakeupTimeout:
			return TIMEOUT
		case WakeupResume:
			continue
		default:
			return k.msgQueueReceiveAfterWake(q, dst)
		}
	}
}

func (k *Kernel) msgQueueReceiveAfterWake(q *MessageQueue, dst []byte) StatusCode {
	prev := q.lock.Lock()
	defer q.lock.Unlock(prev)
	if q.count == 0 {
		return EMPTY
	}
	copy(dst, q.buf[q.head])
	q.head = (q.head + 1) % q.capacity
	q.count--
	if t := q.spaceQ.PopEligible(); t != nil {
		k.wake(t, WakeupMsgQueueSpaceAvailable)
	}
	return OK
}

// Len reports the number of messages currently queued.
func (q *MessageQueue) Len() int {
	prev := q.lock.Lock()
	defer q.lock.Unlock(prev)
	return q.count
}
