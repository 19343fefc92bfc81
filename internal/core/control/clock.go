package control

import "time"

// Clock abstracts wall-clock reads so the controller's pacing logic can be
// tested against a scripted timeline.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real-time clock used in production.
func SystemClock() Clock { return systemClock{} }
