// Package scheduler drives live pipelines on the candle clock.
package scheduler

import (
	"context"
	"time"

	"mtfsignal/internal/logger"
)

// AlignedScheduler runs a task shortly after every candle close: at each
// multiple of Interval plus Offset. With Every set, it instead runs on a
// fixed cadence anchored at the first aligned wake-up, which polls several
// times per candle.
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	Every          time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

func (s *AlignedScheduler) prefix() string {
	if s.Name == "" {
		return "[scheduler]"
	}
	return "[scheduler:" + s.Name + "]"
}

// Start blocks, calling task at every wake-up until ctx is cancelled. A task
// that overruns a wake-up is not called twice; the next wake-up is computed
// from the time the task returned.
func (s *AlignedScheduler) Start(ctx context.Context, task func(ctx context.Context)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("%s invalid interval=%s, exit", s.prefix(), s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("%s negative offset=%s, clamp to 0", s.prefix(), s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	startAt := s.nowFn().UTC()
	logger.Infof("%s started interval=%s offset=%s every=%s run_immediately=%v",
		s.prefix(), s.Interval, s.Offset, s.Every, s.RunImmediately)

	if s.RunImmediately {
		task(ctx)
	}
	var anchor time.Time
	for {
		now := s.nowFn().UTC()
		var wakeAt time.Time
		if s.Every > 0 {
			if anchor.IsZero() {
				_, anchor = s.nextTimes(now)
				wakeAt = anchor
			} else {
				wakeAt = nextFixedTimeAfter(anchor, s.Every, now)
			}
		} else {
			_, wakeAt = s.nextTimes(now)
		}
		wait := wakeAt.Sub(now)
		logger.Debugf("%s next run at %s (in %s) uptime=%s", s.prefix(),
			wakeAt.Format(time.RFC3339), wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))
		if !waitUntil(ctx, wait) {
			logger.Infof("%s ctx done, exit", s.prefix())
			return
		}
		task(ctx)
	}
}

// nextTimes returns the next candle close after now and the wake-up time
// Offset after it.
func (s *AlignedScheduler) nextTimes(now time.Time) (nextClose, wakeAt time.Time) {
	now = now.UTC()
	nextClose = now.Truncate(s.Interval).Add(s.Interval)
	return nextClose, nextClose.Add(s.Offset)
}

func waitUntil(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextFixedTimeAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	anchor = anchor.UTC()
	now = now.UTC()
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}
