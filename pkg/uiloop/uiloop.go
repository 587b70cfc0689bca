// Package uiloop provides the single UI-affine goroutine that receives every
// operator-visible effect of a scan session. Tasks run one at a time in the
// order they were posted.
package uiloop

import (
	"sync"

	"duplexscan/pkg/log"
)

// Loop is a FIFO task loop. Post never blocks, so device goroutines can
// hand work to the loop while the loop itself is waiting on them.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	stopped chan struct{}
}

// New starts a loop.
func New() *Loop {
	l := &Loop{stopped: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.exec(task)
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("UI task panicked: %v", r)
		}
	}()
	task()
}

// Post queues f. Tasks posted after Close are dropped.
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		log.Debug("UI loop closed, dropping task")
		return
	}
	l.queue = append(l.queue, f)
	l.cond.Signal()
}

// Invoke runs f on the loop and waits for it. It must not be called from a
// task running on the loop.
func (l *Loop) Invoke(f func()) {
	done := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, func() {
		defer close(done)
		f()
	})
	l.cond.Signal()
	l.mu.Unlock()
	<-done
}

// Flush waits until every task posted before the call has run.
func (l *Loop) Flush() {
	l.Invoke(func() {})
}

// Close runs the remaining tasks and stops the loop.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Signal()
	l.mu.Unlock()
	<-l.stopped
}
