package mana

import (
	"sync"
)

// Pool is a player's mana: a regular crystal count that refills every turn up to Max,
// plus floating mana granted for the current turn only.
type Pool struct {
	mu sync.RWMutex

	current  int
	max      int
	ceiling  int
	floating int
}

// PoolState is the serializable form of a Pool.
type PoolState struct {
	Current  int `json:"current"`
	Max      int `json:"max"`
	Floating int `json:"floating,omitempty"`
}

// NewPool creates a pool with the given starting maximum. ceiling bounds growth.
func NewPool(start, ceiling int) *Pool {
	if ceiling <= 0 {
		ceiling = start
	}
	if start > ceiling {
		start = ceiling
	}
	return &Pool{current: start, max: start, ceiling: ceiling}
}

// Grow raises the maximum by amount, bounded by the cap.
func (p *Pool) Grow(amount int) {
	if amount <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.max = min(p.max+amount, p.ceiling)
}

// Refill restores current to max.
func (p *Pool) Refill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = p.max
}

// AddFloating adds mana that empties at the end of the turn.
func (p *Pool) AddFloating(amount int) {
	if amount <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.floating += amount
}

// EmptyFloating clears floating mana.
func (p *Pool) EmptyFloating() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.floating = 0
}

// Available returns regular plus floating mana.
func (p *Pool) Available() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current + p.floating
}

// CanAfford reports whether amount can be spent.
func (p *Pool) CanAfford(amount int) bool {
	return amount <= 0 || p.Available() >= amount
}

// Spend attempts to spend mana from the pool.
// Returns true if successful, false if insufficient mana.
// Prefers regular mana over floating mana.
func (p *Pool) Spend(amount int) bool {
	if amount <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current+p.floating < amount {
		return false
	}
	fromRegular := min(amount, p.current)
	p.current -= fromRegular
	p.floating -= amount - fromRegular
	return true
}

// State returns a copy of the pool values.
func (p *Pool) State() PoolState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PoolState{Current: p.current, Max: p.max, Floating: p.floating}
}
