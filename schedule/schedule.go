// Package schedule runs periodic jobs that can be cancelled, on either a real
// clock or a virtual one that tests advance by hand.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Job is a scheduled periodic call. Stop never blocks and may be called more
// than once, including from inside the job's own callback.
type Job interface {
	Stop()
}

// Func is invoked on every tick with the tick time. ctx is cancelled once the
// job is stopped.
type Func func(ctx context.Context, now time.Time)

// Runner creates periodic jobs and reports the current time.
type Runner interface {
	Now() time.Time
	Every(interval time.Duration, fn Func) Job
}

type stopFunc func()

func (f stopFunc) Stop() { f() }

// Live runs jobs on goroutines driven by clock tickers.
type Live struct {
	clock  clockwork.Clock
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLive returns a runner backed by clock. A nil clock means the real clock.
func NewLive(clock clockwork.Clock) *Live {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Live{clock: clock, ctx: ctx, cancel: cancel}
}

func (l *Live) Now() time.Time { return l.clock.Now() }

// Every starts a goroutine calling fn once per interval until the job is
// stopped or the runner is closed.
func (l *Live) Every(interval time.Duration, fn Func) Job {
	if interval <= 0 {
		panic("schedule: non-positive interval")
	}
	ctx, cancel := context.WithCancel(l.ctx)
	ticker := l.clock.NewTicker(interval)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.Chan():
				if ctx.Err() != nil {
					return
				}
				fn(ctx, now)
			}
		}
	}()
	return stopFunc(cancel)
}

// Close stops every job and waits for running callbacks to return.
func (l *Live) Close() {
	l.cancel()
	l.wg.Wait()
}

// Manual is a virtual-time runner. Time moves only through Advance, which
// runs due callbacks synchronously on the calling goroutine.
type Manual struct {
	mu    sync.Mutex
	clock *clockwork.FakeClock
	jobs  []*manualJob
}

type manualJob struct {
	m        *Manual
	interval time.Duration
	next     time.Time
	fn       Func
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
}

func (j *manualJob) Stop() {
	j.m.mu.Lock()
	j.stopped = true
	j.m.mu.Unlock()
	j.cancel()
}

// NewManual returns a virtual-time runner starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{clock: clockwork.NewFakeClockAt(start)}
}

func (m *Manual) Now() time.Time { return m.clock.Now() }

func (m *Manual) Every(interval time.Duration, fn Func) Job {
	if interval <= 0 {
		panic("schedule: non-positive interval")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	defer m.mu.Unlock()
	j := &manualJob{m: m, interval: interval, next: m.clock.Now().Add(interval), fn: fn, ctx: ctx, cancel: cancel}
	m.jobs = append(m.jobs, j)
	return j
}

// Advance moves virtual time forward by d. Jobs due within the window run in
// time order, ties in registration order. Callbacks may stop jobs or
// schedule new ones.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.clock.Now().Add(d)
	m.mu.Unlock()
	for {
		m.mu.Lock()
		j := m.nextDueLocked(target)
		if j == nil {
			if now := m.clock.Now(); target.After(now) {
				m.clock.Advance(target.Sub(now))
			}
			m.mu.Unlock()
			return
		}
		at := j.next
		if now := m.clock.Now(); at.After(now) {
			m.clock.Advance(at.Sub(now))
		}
		j.next = at.Add(j.interval)
		m.mu.Unlock()

		j.fn(j.ctx, at)
	}
}

// Pending returns the number of jobs that have not been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if !j.stopped {
			n++
		}
	}
	return n
}

func (m *Manual) nextDueLocked(target time.Time) *manualJob {
	var due *manualJob
	live := m.jobs[:0]
	for _, j := range m.jobs {
		if j.stopped {
			continue
		}
		live = append(live, j)
		if j.next.After(target) {
			continue
		}
		if due == nil || j.next.Before(due.next) {
			due = j
		}
	}
	for i := len(live); i < len(m.jobs); i++ {
		m.jobs[i] = nil
	}
	m.jobs = live
	return due
}
