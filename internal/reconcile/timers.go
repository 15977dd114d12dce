package reconcile

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// timerSet owns the periodic display timers of one session.
type timerSet struct {
	mu    sync.Mutex
	clock clockwork.Clock
	stops []func()
}

func (t *timerSet) every(interval time.Duration, fn func(now time.Time)) {
	ticker := t.clock.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case now := <-ticker.Chan():
				fn(now)
			}
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops = append(t.stops, func() {
		ticker.Stop()
		close(done)
	})
}

func (t *timerSet) clear() {
	t.mu.Lock()
	stops := t.stops
	t.stops = nil
	t.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

func (t *timerSet) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stops)
}
