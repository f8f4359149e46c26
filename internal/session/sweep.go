package session

import (
	"sync"
	"time"
)

const maxSweepInterval = time.Minute

// sweeper runs fn every interval until stopped.
type sweeper struct {
	stop chan struct{}
	once sync.Once
}

func startSweeper(every time.Duration, fn func()) *sweeper {
	s := &sweeper{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return s
}

func (s *sweeper) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.stop) })
}

// sweepInterval is ttl capped at maxSweepInterval; zero when nothing expires.
func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if ttl > maxSweepInterval {
		return maxSweepInterval
	}
	return ttl
}
