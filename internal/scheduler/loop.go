package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Loop runs fn on a fixed interval. A tick that fires while the previous one
// is still running is skipped, not queued, and every tick carries a deadline.
type Loop struct {
	name     string
	every    time.Duration
	deadline time.Duration
	fn       func(ctx context.Context)
	log      *logrus.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewLoop(name string, every, deadline time.Duration, fn func(ctx context.Context), log *logrus.Logger) *Loop {
	return &Loop{
		name:     name,
		every:    every,
		deadline: deadline,
		fn:       fn,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (l *Loop) Start() {
	ticker := time.NewTicker(l.every)
	go func() {
		defer ticker.Stop()
		defer close(l.done)
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.RunOnce()
			}
		}
	}()
}

// RunOnce executes a single tick. Returns false when the tick was skipped
// because the previous one is still in flight.
func (l *Loop) RunOnce() (ran bool) {
	if !l.mu.TryLock() {
		l.log.WithField("loop", l.name).Warn("tick skipped, previous run still in flight")
		return false
	}
	defer l.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), l.deadline)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			l.log.WithFields(logrus.Fields{"loop": l.name, "panic": r}).Error("tick panicked")
		}
	}()
	ran = true
	l.fn(ctx)
	return ran
}

func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}
