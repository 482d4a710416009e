package timing

import (
	"context"
	"testing"
	"time"
)

func TestPumpDeliversRequestedTicks(t *testing.T) {
	var frames []int
	ticks := Pump(context.Background(), time.Millisecond, func(frame int) bool {
		frames = append(frames, frame)
		return frame+1 < 5
	})

	if ticks != 5 {
		t.Fatalf("Pump returned %d ticks, want 5", ticks)
	}
	for i, f := range frames {
		if f != i {
			t.Errorf("tick %d got frame index %d", i, f)
		}
	}
}

func TestPumpPacesToWallClock(t *testing.T) {
	const (
		interval = 10 * time.Millisecond
		ticks    = 20
	)

	start := time.Now()
	got := Pump(context.Background(), interval, func(frame int) bool {
		return frame+1 < ticks
	})
	elapsed := time.Since(start)

	if got != ticks {
		t.Fatalf("Pump returned %d ticks, want %d", got, ticks)
	}
	// Drift correction keeps total wall time aligned with ticks*interval.
	// The final tick has no trailing sleep, hence the lower bound of one
	// interval less.
	min := time.Duration(ticks-1) * interval
	max := time.Duration(ticks)*interval + 100*time.Millisecond
	if elapsed < min || elapsed > max {
		t.Errorf("elapsed %v outside [%v, %v]", elapsed, min, max)
	}
}

func TestPumpAbsorbsSlowTicks(t *testing.T) {
	const interval = 5 * time.Millisecond

	start := time.Now()
	Pump(context.Background(), interval, func(frame int) bool {
		if frame == 0 {
			// One slow tick must be absorbed by shorter subsequent
			// sleeps, not pushed onto total duration.
			time.Sleep(4 * interval)
		}
		return frame+1 < 10
	})
	elapsed := time.Since(start)

	max := 10*interval + 100*time.Millisecond
	if elapsed > max {
		t.Errorf("elapsed %v, want under %v", elapsed, max)
	}
}

func TestPumpStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ticks := Pump(ctx, time.Millisecond, func(frame int) bool {
		if frame == 2 {
			cancel()
		}
		return true
	})

	if ticks != 3 {
		t.Errorf("Pump returned %d ticks after cancel, want 3", ticks)
	}
}

func TestPumpRejectsBadInput(t *testing.T) {
	if got := Pump(context.Background(), 0, func(int) bool { return false }); got != 0 {
		t.Errorf("zero interval delivered %d ticks", got)
	}
	if got := Pump(context.Background(), time.Millisecond, nil); got != 0 {
		t.Errorf("nil tick func delivered %d ticks", got)
	}
}

func TestInterval(t *testing.T) {
	cases := []struct {
		fps  int
		want time.Duration
	}{
		{30, 33333333 * time.Nanosecond},
		{60, 16666666 * time.Nanosecond},
		{1, time.Second},
		{0, 0},
		{-5, 0},
	}
	for _, tc := range cases {
		if got := Interval(tc.fps); got != tc.want {
			t.Errorf("Interval(%d) = %v, want %v", tc.fps, got, tc.want)
		}
	}
}
