package persist

import (
	"sync"
	"time"
)

// DefaultPollInterval is how often polling backends check for outside writes.
const DefaultPollInterval = 500 * time.Millisecond

// PollChanges calls fn whenever version() returns a value different from the
// previous poll. It is used by backends whose storage has no native change
// notification (files, SQLite shared between processes).
func PollChanges(interval time.Duration, version func() string, fn func()) (cancel func()) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	stop := make(chan struct{})
	last := version()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if v := version(); v != last {
					last = v
					fn()
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}
