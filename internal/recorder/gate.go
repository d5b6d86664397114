package recorder

import "sync"

// Gate is the reentrancy flag shared between capture and replay. While held,
// the capture pipeline drops everything it sees, so synthesized interactions
// are never recorded as user actions.
type Gate struct {
	mu     sync.Mutex
	active bool
}

// Enter marks a replay as in progress.
func (g *Gate) Enter() {
	g.mu.Lock()
	g.active = true
	g.mu.Unlock()
}

// Exit clears the flag. Callers pair it with Enter via defer so the flag is
// released even when synthesis fails.
func (g *Gate) Exit() {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}

// Active reports whether a replay is in progress.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
