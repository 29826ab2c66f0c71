package volume

import "time"

// DefaultRetryInterval is the pause between close/truncate invalidation
// attempts while other goroutines still hold claims on the volume's pages.
const DefaultRetryInterval = 50 * time.Millisecond

// Config carries the tunables of a volume's lifecycle coordination. The
// zero value selects the defaults.
type Config struct {
	// RetryInterval is the back-off between invalidation attempts during
	// close and truncate. The loop itself is unbounded: close always runs
	// to completion once started.
	RetryInterval time.Duration
}

// DefaultConfig returns the standard coordination tunables.
func DefaultConfig() Config {
	return Config{RetryInterval: DefaultRetryInterval}
}

func (c Config) withDefaults() Config {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}
