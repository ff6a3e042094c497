// Package overlay runs the overlay session: its input state machine, the
// delivery of preset texts into the game and the orderly shutdown of
// everything the overlay owns.
package overlay

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Loop executes posted funcs one at a time on a single goroutine. Window
// styles, the click-through poll and every other piece of session state are
// only touched from it.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	running atomic.Bool
	logger  *zap.Logger
}

// NewLoop creates a loop. Run or Start must be called before posted funcs
// execute.
func NewLoop(logger *zap.Logger) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.Named("loop"),
	}
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start() {
	go l.Run()
}

// Run executes posted funcs until Stop. It blocks.
func (l *Loop) Run() {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}
		for _, fn := range l.take() {
			select {
			case <-l.quit:
				return
			default:
			}
			fn()
		}
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.queue
	l.queue = nil
	return q
}

// Post queues fn without blocking. It returns false once the loop has
// stopped.
func (l *Loop) Post(fn func()) bool {
	if l.stopped.Load() {
		return false
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it. It returns false if the loop
// stopped first. Calling it from the loop itself deadlocks.
func (l *Loop) Call(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// After runs fn on the loop once d has elapsed. The returned func cancels
// it; fn does not run after cancel returns if cancel is called on the loop.
func (l *Loop) After(d time.Duration, fn func()) (cancel func()) {
	var cancelled atomic.Bool
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if !cancelled.Load() {
				fn()
			}
		})
	})
	return func() {
		cancelled.Store(true)
		t.Stop()
	}
}

// Every runs fn on the loop every d until the returned func is called or
// the loop stops. Ticks are skipped while a previous one is still queued.
func (l *Loop) Every(d time.Duration, fn func()) (stop func()) {
	var (
		stopped atomic.Bool
		queued  atomic.Bool
		once    sync.Once
	)
	halt := make(chan struct{})
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-halt:
				return
			case <-l.quit:
				return
			case <-ticker.C:
				if !queued.CompareAndSwap(false, true) {
					continue
				}
				l.Post(func() {
					queued.Store(false)
					if !stopped.Load() {
						fn()
					}
				})
			}
		}
	}()
	return func() {
		once.Do(func() {
			stopped.Store(true)
			close(halt)
		})
	}
}

// Stop ends the loop after the func currently executing, if any. Queued
// funcs are dropped. It does not wait; use Done for that. Stop may be
// called from the loop itself.
func (l *Loop) Stop() {
	if !l.stopped.CompareAndSwap(false, true) {
		return
	}
	l.logger.Debug("Stopping loop")
	close(l.quit)
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
