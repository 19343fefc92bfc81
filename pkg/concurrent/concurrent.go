package concurrent

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/trailsync/trailsync/pkg/sequence"
)

// ForEach runs action for each element of the iterator in its own goroutine
// and waits for all of them. The first error encountered is returned.
func ForEach[T any](i *sequence.Iterator[T], action func(T) error) error {
	errGroup := errgroup.Group{}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}

		errGroup.Go(func() error {
			return action(value)
		})
	}

	return errGroup.Wait()
}

// Throttle runs action for each element with at most concurrency goroutines
// in flight, and waits for all of them.
func Throttle[T any](i *sequence.Iterator[T], concurrency int, action func(T)) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	next, stop := i.Pull()
	defer stop()
	for {
		value, valid := next()
		if !valid {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(v T) {
			defer wg.Done()
			action(v)
			<-sem
		}(value)
	}
	wg.Wait()
}
