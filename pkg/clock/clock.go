// Package clock abstracts wall time and periodic execution so time driven
// jobs can be exercised without waiting.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a unit of periodic work.
type Task func(ctx context.Context)

// Clock tells the time and runs tasks on a fixed period.
type Clock interface {
	Now() time.Time
	// Schedule runs task every interval until ctx is cancelled. Runs never overlap.
	Schedule(ctx context.Context, interval time.Duration, task Task)
}

// Real is the wall clock. Logger receives scheduler events; nil discards them.
type Real struct {
	Logger *zap.Logger
}

// Now returns the current UTC time.
func (Real) Now() time.Time { return time.Now().UTC() }

// Schedule registers task on a cron runner that fires every interval and
// skips a tick while the previous run is still going. The runner stops when
// ctx is cancelled. cron does not fire more often than once per second.
func (r Real) Schedule(ctx context.Context, interval time.Duration, task Task) {
	if interval <= 0 {
		return
	}
	logger := cronLogger{l: zap.NewNop().Sugar()}
	if r.Logger != nil {
		logger.l = r.Logger.Sugar()
	}

	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc("@every "+interval.String(), func() { task(ctx) }); err != nil {
		logger.Error(err, "schedule task", "interval", interval.String())
		return
	}
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
}

// cronLogger adapts zap to cron's logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

type scheduled struct {
	ctx      context.Context
	interval time.Duration
	next     time.Time
	task     Task
}

// Manual is a hand-driven clock. Scheduled tasks fire synchronously from Advance.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*scheduled
}

// NewManual returns a Manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock without firing tasks.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Schedule registers task to fire every interval of manual time.
func (m *Manual) Schedule(ctx context.Context, interval time.Duration, task Task) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	m.tasks = append(m.tasks, &scheduled{ctx: ctx, interval: interval, next: m.now.Add(interval), task: task})
	m.mu.Unlock()
}

// Advance moves time forward by d and runs every task that came due, in order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var due *scheduled
		for _, s := range m.tasks {
			if s.ctx.Err() != nil || s.next.After(target) {
				continue
			}
			if due == nil || s.next.Before(due.next) {
				due = s
			}
		}
		if due == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = due.next
		due.next = due.next.Add(due.interval)
		m.mu.Unlock()

		due.task(due.ctx)
	}
}

// Pending reports how many live tasks are registered.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.tasks {
		if s.ctx.Err() == nil {
			n++
		}
	}
	return n
}
