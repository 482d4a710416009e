// Package timing drives the fixed-rate frame clock for a stitch run.
//
// The pump is drift-corrected: instead of sleeping a constant interval per
// frame, it measures elapsed wall time against the loop start and sleeps
// only the remainder to each frame's absolute target. Scheduling jitter in
// one tick is therefore absorbed by the next sleep instead of accumulating
// into a clip that runs long.
package timing

import (
	"context"
	"time"
)

// TickFunc is called once per frame with the zero-based frame index.
// Returning false stops the pump after the current tick.
type TickFunc func(frame int) bool

// Pump runs onTick at the given frame interval until onTick returns false
// or the context is cancelled. Cancellation stops the loop mid-sleep
// without error; the pump returns the number of ticks delivered.
//
// For frame f the target elapsed time is (f+1)*interval from loop start;
// after each tick the pump sleeps max(0, target-elapsed).
func Pump(ctx context.Context, interval time.Duration, onTick TickFunc) int {
	if interval <= 0 || onTick == nil {
		return 0
	}

	t0 := time.Now()
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	ticks := 0
	for frame := 0; ; frame++ {
		select {
		case <-ctx.Done():
			return ticks
		default:
		}

		if !onTick(frame) {
			return ticks + 1
		}
		ticks++

		targetElapsed := time.Duration(frame+1) * interval
		sleep := targetElapsed - time.Since(t0)
		if sleep <= 0 {
			// Behind schedule; run the next tick immediately. The correction
			// term keeps total wall time aligned with frame count.
			continue
		}

		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			return ticks
		case <-timer.C:
		}
	}
}

// Interval converts a frame rate to its per-frame interval.
func Interval(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Second / time.Duration(fps)
}
