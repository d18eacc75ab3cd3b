package retry

import (
	"fmt"
	"math"
	"time"
)

// Config is the retry policy. MaxAttempts counts every attempt, including
// the first.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	// MaxDelay caps the exponential delay before jitter is added. With
	// Jitter on, the actual sleep can reach twice MaxDelay.
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter adds a random extra in [0, delay) to each sleep.
	Jitter bool
}

// Validate checks the policy is usable.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("initial delay must be positive, got %s", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max delay %s must not be less than initial delay %s", c.MaxDelay, c.InitialDelay)
	}
	if math.IsNaN(c.Multiplier) || math.IsInf(c.Multiplier, 0) || c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be a finite value >= 1, got %v", c.Multiplier)
	}
	return nil
}
