package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown ticks once per second until its deadline and then calls
// onExpire. Remaining time is read from the clock on every tick, so a
// delayed tick never stretches the countdown. Stop cancels it; a stopped
// countdown never fires again.
type Countdown struct {
	clock    clockwork.Clock
	deadline time.Time
	onTick   func(remaining int)
	onExpire func()

	mu        sync.Mutex
	remaining int
	stopped   bool
	stop      chan struct{}
}

// StartCountdown starts a countdown of seconds. onTick may be nil.
func StartCountdown(clock clockwork.Clock, seconds int, onTick func(int), onExpire func()) *Countdown {
	c := &Countdown{
		clock:     clock,
		deadline:  clock.Now().Add(time.Duration(seconds) * time.Second),
		onTick:    onTick,
		onExpire:  onExpire,
		remaining: seconds,
		stop:      make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Countdown) run() {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			if c.stopped {
				c.mu.Unlock()
				return
			}
			left := secondsLeft(c.clock.Now(), c.deadline)
			c.remaining = left
			if left <= 0 {
				c.stopped = true
			}
			c.mu.Unlock()

			if c.onTick != nil {
				c.onTick(left)
			}
			if left <= 0 {
				if c.onExpire != nil {
					c.onExpire()
				}
				return
			}
		}
	}
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining < 0 {
		return 0
	}
	return c.remaining
}

// Stop cancels the countdown. It is safe to call more than once and from
// inside the callbacks.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stop)
}

func secondsLeft(now, deadline time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
