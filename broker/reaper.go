package broker

import (
	"sync"
	"time"
)

type pendingDelete struct {
	code string
	due  time.Time
}

// reaper deletes consumed codes once their grace delay has passed. The delay is
// the same for every code, so the queue stays ordered by due time and a single
// goroutine with one timer drains it.
type reaper struct {
	delay  time.Duration
	remove func(code string)

	mu     sync.Mutex
	queue  []pendingDelete
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newReaper(delay time.Duration, remove func(code string)) *reaper {
	r := &reaper{
		delay:  delay,
		remove: remove,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// schedule queues code for deletion after the grace delay. Once the reaper is
// closed the code is dropped and left to Sweep.
func (r *reaper) schedule(code string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, pendingDelete{code: code, due: time.Now().Add(r.delay)})
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// pending returns the number of codes waiting for deletion
func (r *reaper) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *reaper) close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.stop)
	})
	<-r.done
}

func (r *reaper) run() {
	defer close(r.done)

	for {
		for _, code := range r.popDue(time.Now()) {
			r.remove(code)
		}

		var timer *time.Timer
		var wait <-chan time.Time
		if next, ok := r.nextDue(); ok {
			timer = time.NewTimer(time.Until(next))
			wait = timer.C
		}

		select {
		case <-wait:
		case <-r.wake:
		case <-r.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (r *reaper) popDue(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := 0
	for i < len(r.queue) && !r.queue[i].due.After(now) {
		i++
	}
	if i == 0 {
		return nil
	}
	codes := make([]string, i)
	for j := range codes {
		codes[j] = r.queue[j].code
	}
	r.queue = append(r.queue[:0], r.queue[i:]...)
	return codes
}

func (r *reaper) nextDue() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return time.Time{}, false
	}
	return r.queue[0].due, true
}
