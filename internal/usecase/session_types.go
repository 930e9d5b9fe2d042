package usecase

import (
	"context"
	"sync"
)

type activeSession struct {
	id     string
	loop   *pollingLoop
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
}

// stop cancels the loop, waits for it to exit and then hands ownership of
// the loop state to the caller for the final Idle transition.
func (s *activeSession) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
		s.loop.shutdown(context.Background())
	})
}
