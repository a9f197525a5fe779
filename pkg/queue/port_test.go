package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateIsIdempotentPerAgent(t *testing.T) {
	a := newPortAllocator()
	first := a.allocate("agent-1", "")
	second := a.allocate("agent-1", "")
	assert.Equal(t, first, second)
}

func TestAllocateStartsAtBasePort(t *testing.T) {
	a := newPortAllocator()
	port := a.allocate("agent-1", "")
	assert.GreaterOrEqual(t, port, basePort)
}

func TestAllocateGivesDistinctPortsToDistinctAgents(t *testing.T) {
	a := newPortAllocator()
	p1 := a.allocate("agent-1", "")
	p2 := a.allocate("agent-2", "agent-1")
	assert.NotEqual(t, p1, p2)
}

func TestAllocateIsMonotonicallyIncreasing(t *testing.T) {
	a := newPortAllocator()
	p1 := a.allocate("agent-1", "")
	p2 := a.allocate("agent-2", "")
	p3 := a.allocate("agent-3", "")
	assert.Less(t, p1, p2)
	assert.Less(t, p2, p3)
}
