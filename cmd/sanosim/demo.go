package main

import (
	"fmt"

	"github.com/pdlsurya/sanorts/kernel"
)

// buildDemoTasks wires up a small producer/consumer scenario plus a
// mutex-contention pair, exercising the message queue, mutex, semaphore and
// a periodic timer end to end. Condition variables are not used here.
func buildDemoTasks(k *kernel.Kernel, cfg *kernel.RootConfig) error {
	port := k.Port()

	const queueCapacity, queueMsgSize = 8, 32
	queueBuf := make([]byte, queueCapacity*queueMsgSize)
	queue, err := kernel.NewMessageQueue(port, k.EnableSMP(), queueBuf, queueCapacity, queueMsgSize)
	if err != nil {
		return err
	}
	mutex := kernel.NewMutex(port, k.EnableSMP())
	sem := kernel.NewSemaphore(port, k.EnableSMP(), 0, 1)

	shared := struct{ counter int }{}

	heartbeats, err := k.NewTimer("heartbeat", 200, false, func(tm *kernel.Timer, arg any) {
		k.MutexLock(mutex, k.TimerTask(), kernel.WaitForever)
		shared.counter++
		k.MutexUnlock(mutex, k.TimerTask())
	}, nil)
	if err != nil {
		return err
	}
	if st := heartbeats.Start(); st != kernel.OK {
		return fmt.Errorf("heartbeat timer start: %v", st)
	}

	producer, err := kernel.NewTask(port, &kernel.TaskConfig{
		Name:     "producer",
		Priority: 10,
	}, func(k *kernel.Kernel, self *kernel.Task, param any) {
		var n int
		for {
			msg := []byte(fmt.Sprintf("tick-%d", n))
			k.MsgQueueSend(queue, self, msg, kernel.WaitForever)
			n++
			k.SemaphoreGive(sem, self)
			k.Sleep(self, 50)
		}
	}, nil)
	if err != nil {
		return err
	}

	consumer, err := kernel.NewTask(port, &kernel.TaskConfig{
		Name:     "consumer",
		Priority: 10,
	}, func(k *kernel.Kernel, self *kernel.Task, param any) {
		buf := make([]byte, 32)
		for {
			if st := k.MsgQueueReceive(queue, self, buf, kernel.WaitForever); st == kernel.OK {
				k.MutexLock(mutex, self, kernel.WaitForever)
				shared.counter++
				k.MutexUnlock(mutex, self)
			}
		}
	}, nil)
	if err != nil {
		return err
	}

	watcher, err := kernel.NewTask(port, &kernel.TaskConfig{
		Name:     "watcher",
		Priority: 5,
	}, func(k *kernel.Kernel, self *kernel.Task, param any) {
		for {
			k.SemaphoreTake(sem, self, kernel.WaitForever)
			k.MutexLock(mutex, self, kernel.WaitForever)
			_ = shared.counter
			k.MutexUnlock(mutex, self)
		}
	}, nil)
	if err != nil {
		return err
	}

	for _, t := range []*kernel.Task{producer, consumer, watcher} {
		if err := k.AddTask(t); err != nil {
			return err
		}
	}
	return nil
}
