// Package scheduler drives the trade queue and the automatic decision cycle
// on wall-clock aligned intervals.
package scheduler

import (
	"context"
	"time"

	"phinance/internal/logger"
)

// AlignedScheduler fires a task at every multiple of Interval (plus Offset)
// until its context is done.
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, name string, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// SetClock replaces the clock handed to the task.
func (s *AlignedScheduler) SetClock(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// Start blocks, running task on each aligned boundary. task receives the
// scheduled instant.
func (s *AlignedScheduler) Start(task func(now time.Time)) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("scheduler %s: task is nil, exit", s.Name)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("scheduler %s: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if s.Offset < 0 || s.Offset >= s.Interval {
		logger.Warnf("scheduler %s: offset=%s outside [0, interval), clamp to 0", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn()
	_, wakeAt, wait := s.nextTimes(startAt)
	logger.Infof("scheduler %s: started interval=%s offset=%s first run at %s (in %s)",
		s.Name, s.Interval, s.Offset, wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))

	if s.RunImmediately && s.ctx.Err() == nil {
		task(startAt)
	}

	for {
		now := s.nowFn()
		_, wakeAt, wait := s.nextTimes(now)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				logger.Infof("scheduler %s: ctx done, exit", s.Name)
				return
			case <-timer.C:
			}
		}
		if s.ctx.Err() != nil {
			logger.Infof("scheduler %s: ctx done, exit", s.Name)
			return
		}
		logger.Debugf("scheduler %s: run at %s uptime=%s", s.Name, wakeAt.Format(time.RFC3339), s.nowFn().Sub(startAt).Truncate(time.Second))
		task(wakeAt)
	}
}

func (s *AlignedScheduler) nextTimes(now time.Time) (boundary time.Time, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	boundary = now.Truncate(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	if !wakeAt.After(now) {
		boundary = boundary.Add(s.Interval)
		wakeAt = boundary.Add(s.Offset)
	}
	return boundary, wakeAt, wakeAt.Sub(now)
}
