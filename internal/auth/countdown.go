package auth

import (
	"sync"
	"time"
)

// TickerFunc creates a tick source and its stop function. The production
// implementation wraps time.Ticker; tests inject a channel they drive by
// hand so countdown behavior is checked against virtual time.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Countdown is the resend cooldown of one OTP challenge: remaining seconds
// tick down once per second until zero, at which point resending becomes
// allowed and ticking stops. Start cancels any run already in progress, so
// there is never more than one live ticker per countdown, and Stop
// guarantees no state mutation afterwards.
type Countdown struct {
	newTicker TickerFunc

	mu        sync.Mutex
	remaining int
	canResend bool
	cancel    chan struct{}
}

// NewCountdown builds a countdown driven by the given ticker source. A nil
// ticker uses real one-second ticks.
func NewCountdown(ticker TickerFunc) *Countdown {
	if ticker == nil {
		ticker = realTicker
	}
	return &Countdown{newTicker: ticker}
}

// Start begins (or restarts) the countdown from the given number of
// seconds. Any previously running tick loop is cancelled first.
func (c *Countdown) Start(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}

	c.remaining = seconds
	if seconds <= 0 {
		c.remaining = 0
		c.canResend = true
		return
	}
	c.canResend = false

	cancel := make(chan struct{})
	c.cancel = cancel
	ticks, stop := c.newTicker(time.Second)
	go c.run(ticks, stop, cancel)
}

// Stop cancels the running countdown. After Stop returns, no tick mutates
// the state again.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
}

// Remaining returns the seconds left before resend is allowed.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// CanResend reports whether the cooldown has elapsed.
func (c *Countdown) CanResend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canResend
}

func (c *Countdown) run(ticks <-chan time.Time, stop func(), cancel chan struct{}) {
	defer stop()
	for {
		select {
		case <-cancel:
			return
		case <-ticks:
			c.mu.Lock()
			if c.cancel != cancel {
				// superseded by a restart or stopped; this run may not
				// touch the state anymore
				c.mu.Unlock()
				return
			}
			c.remaining--
			if c.remaining <= 0 {
				c.remaining = 0
				c.canResend = true
				c.cancel = nil
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}
