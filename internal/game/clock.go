package game

import (
	"sync"
	"time"
)

// TurnClock ends turns that run longer than the timeout. fire is called from the timer
// goroutine with the match and the turn number that expired.
type TurnClock struct {
	timeout time.Duration
	fire    func(matchID string, turn int)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTurnClock creates a clock. A zero timeout disables it.
func NewTurnClock(timeout time.Duration, fire func(matchID string, turn int)) *TurnClock {
	return &TurnClock{
		timeout: timeout,
		fire:    fire,
		timers:  make(map[string]*time.Timer),
	}
}

// Enabled reports whether the clock has a timeout.
func (c *TurnClock) Enabled() bool { return c != nil && c.timeout > 0 }

// Start (re)arms the timer of a match for turn.
func (c *TurnClock) Start(matchID string, turn int) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[matchID]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(c.timeout, func() {
		c.mu.Lock()
		if c.timers[matchID] == timer {
			delete(c.timers, matchID)
		}
		c.mu.Unlock()
		c.fire(matchID, turn)
	})
	c.timers[matchID] = timer
}

// Stop disarms the timer of a match.
func (c *TurnClock) Stop(matchID string) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[matchID]; ok {
		t.Stop()
		delete(c.timers, matchID)
	}
}

// Armed returns the number of running timers.
func (c *TurnClock) Armed() int {
	if !c.Enabled() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// StopAll disarms every timer.
func (c *TurnClock) StopAll() {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}
