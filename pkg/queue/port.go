package queue

import "sync"

// basePort is the lowest port ever handed out by allocate, per spec §4.10.
const basePort = 9000

// portAllocator hands out monotonically increasing ports starting at
// basePort, idempotently per agent id: asking for the same agentID twice
// returns the same port.
type portAllocator struct {
	mu     sync.Mutex
	byID   map[string]int
	nextID int
}

func newPortAllocator() *portAllocator {
	return &portAllocator{byID: make(map[string]int), nextID: basePort}
}

// allocate returns agentID's port, assigning the next free one on first
// call. parentAgentID is accepted for symmetry with spec §4.10's
// allocatePort(agentId, parentAgentId?) signature but does not affect
// allocation: child agents simply get the next available port like any
// other agent.
func (a *portAllocator) allocate(agentID, parentAgentID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.byID[agentID]; ok {
		return port
	}
	port := a.nextID
	a.nextID++
	a.byID[agentID] = port
	return port
}
