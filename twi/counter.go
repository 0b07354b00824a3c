package twi

import (
	"context"
	"sync/atomic"
	"time"
)

const counterMax = 255

// Counter is the 8-bit saturating timeout counter shared between the polling
// path and the periodic tick source. Zero means stopped: ticks are ignored
// until the counter is armed again.
type Counter struct {
	v atomic.Uint32
}

// Tick advances an armed counter by one, saturating at 255.
func (c *Counter) Tick() {
	for {
		v := c.v.Load()
		if v == 0 || v >= counterMax {
			return
		}
		if c.v.CompareAndSwap(v, v+1) {
			return
		}
	}
}

// Arm restarts the counter at 1.
func (c *Counter) Arm() {
	c.v.Store(1)
}

func (c *Counter) Stop() {
	c.v.Store(0)
}

func (c *Counter) Value() uint8 {
	return uint8(c.v.Load())
}

// Ticker is anything that can be driven by a Clock.
type Ticker interface {
	Tick()
}

// Clock ticks a Ticker at a fixed interval until the context is done.
type Clock struct {
	Interval time.Duration
}

// DefaultTickInterval matches the 100µs cadence the timeout threshold is tuned for.
const DefaultTickInterval = 100 * time.Microsecond

func (c Clock) Run(ctx context.Context, t Ticker) {
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}
