// Package scheduler runs the recurring jobs: fixed-interval repeats
// (optionally deferring the first run) and a daily clock-time job.
// Every loop is immortal: a failing or panicking job run is logged and
// the loop keeps going.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is one schedulable unit of work.
type Job func(ctx context.Context) error

// fallbackSleep is how long a daily loop waits after a scheduling
// failure before recomputing its next run.
const fallbackSleep = time.Minute

// Every runs job on a fixed interval until ctx is cancelled. With
// deferFirst the first run waits one full interval instead of firing
// immediately.
func Every(ctx context.Context, name string, interval time.Duration, deferFirst bool, job Job) {
	if deferFirst {
		slog.Info("job first run deferred", "job", name, "interval", interval)
		if !sleep(ctx, interval) {
			return
		}
	}
	for {
		runJob(ctx, name, job)
		slog.Info("job complete, sleeping", "job", name, "interval", interval)
		if !sleep(ctx, interval) {
			return
		}
	}
}

// DailyAt runs job once per day at hour:minute in loc until ctx is
// cancelled. A failure while scheduling is logged and followed by a
// short fallback sleep; the loop never terminates on its own.
func DailyAt(ctx context.Context, name string, hour, minute int, loc *time.Location, job Job) {
	for {
		if !dailyIteration(ctx, name, hour, minute, loc, job) {
			return
		}
	}
}

// dailyIteration performs one schedule-sleep-run cycle. It returns
// false only when ctx is done.
func dailyIteration(ctx context.Context, name string, hour, minute int, loc *time.Location, job Job) (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("daily schedule iteration panicked", "job", name, "panic", r)
			alive = sleep(ctx, fallbackSleep)
		}
	}()

	next := NextDaily(time.Now(), hour, minute, loc)
	slog.Info("next daily run scheduled", "job", name, "at", next.Format(time.RFC3339))
	if !sleep(ctx, time.Until(next)) {
		return false
	}
	runJob(ctx, name, job)
	return true
}

// NextDaily returns the next occurrence of hour:minute in loc strictly
// after now, rolling to the following day when today's slot has passed.
func NextDaily(now time.Time, hour, minute int, loc *time.Location) time.Time {
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// runJob executes one job run, containing any error or panic so the
// owning loop survives.
func runJob(ctx context.Context, name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job", name, "panic", r)
		}
	}()
	if err := job(ctx); err != nil {
		slog.Error("job failed", "job", name, "error", err)
	}
}

// sleep waits for d or until ctx is done; it reports whether the caller
// should keep running.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
