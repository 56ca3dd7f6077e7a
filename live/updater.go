package live

import "time"

// UpdatePeriod is the default pump cadence, matching a 60 Hz frame.
const UpdatePeriod = 16 * time.Millisecond

// Updater drives a pump function at a fixed cadence from its own
// goroutine.
type Updater struct {
	ticker *time.Ticker
	done   chan struct{}
}

// NewUpdater starts calling fn every UpdatePeriod until Stop. Errors
// are fn's business; returning does not stop the updater.
func NewUpdater(fn func()) *Updater {
	u := &Updater{ticker: time.NewTicker(UpdatePeriod), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-u.ticker.C:
				fn()
			case <-u.done:
				return
			}
		}
	}()
	return u
}

func (u *Updater) Stop() {
	u.ticker.Stop()
	close(u.done)
}
