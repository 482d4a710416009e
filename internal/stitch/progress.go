package stitch

import (
	"github.com/clipforge/stitch-api/internal/clip"
)

// publisher decouples the render loop from the caller's progress consumer:
// snapshots go through a bounded channel drained by a dedicated goroutine,
// so a slow callback can never stall frame pacing. Intermediate snapshots
// are dropped when the consumer lags; terminal snapshots are always
// delivered before the run returns.
type publisher struct {
	ch   chan clip.Progress
	done chan struct{}

	lastPercent float64
	total       int
}

func newPublisher(fn clip.ProgressFunc, totalClips int) *publisher {
	p := &publisher{
		ch:    make(chan clip.Progress, 16),
		done:  make(chan struct{}),
		total: totalClips,
	}
	go func() {
		defer close(p.done)
		for snapshot := range p.ch {
			if fn != nil {
				fn(snapshot)
			}
		}
	}()
	return p
}

// publish emits a snapshot, clamping percent so it never decreases within
// a run. Lagging consumers lose intermediate snapshots, never ordering.
func (p *publisher) publish(phase clip.Phase, currentClip int, percent float64, message string, remaining float64) {
	if percent < p.lastPercent {
		percent = p.lastPercent
	}
	p.lastPercent = percent

	snapshot := clip.Progress{
		Phase:                     phase,
		CurrentClip:               currentClip,
		TotalClips:                p.total,
		PercentComplete:           percent,
		Message:                   message,
		EstimatedSecondsRemaining: remaining,
	}

	if phase == clip.PhaseComplete || phase == clip.PhaseError {
		p.ch <- snapshot
		return
	}
	select {
	case p.ch <- snapshot:
	default:
	}
}

// close flushes the channel and waits for the consumer, guaranteeing the
// terminal snapshot was delivered before Run returns.
func (p *publisher) close() {
	close(p.ch)
	<-p.done
}
