package control

import "time"

// loadTracker keeps a rolling window of per-frame simulation cost relative
// to the frame budget. A mean of 1.0 means the simulation is consuming its
// entire budget.
type loadTracker struct {
	samples []float64
	next    int
	filled  int
}

func newLoadTracker(window int) *loadTracker {
	return &loadTracker{samples: make([]float64, window)}
}

// record stores cost/budget for one frame, evicting the oldest sample once
// the window is full.
func (l *loadTracker) record(cost, budget time.Duration) {
	l.samples[l.next] = float64(cost) / float64(budget)
	l.next = (l.next + 1) % len(l.samples)
	if l.filled < len(l.samples) {
		l.filled++
	}
}

// mean returns the average of the recorded samples, 0 before any sample.
func (l *loadTracker) mean() float64 {
	if l.filled == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < l.filled; i++ {
		sum += l.samples[i]
	}
	return sum / float64(l.filled)
}
