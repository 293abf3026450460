package clock

import (
	"fmt"
	"net"
	"sync"

	"github.com/agentmesh/agentmesh/pkg/types"
)

// PortAllocator hands out ports from a contiguous range [base, base+capacity).
// A candidate is verified with an exclusive loopback bind before it is
// recorded as taken. One allocator instance exists per process.
type PortAllocator struct {
	mu       sync.Mutex
	base     int
	capacity int
	taken    map[int]bool
	next     int
}

// NewPortAllocator creates an allocator over [base, base+capacity).
func NewPortAllocator(base, capacity int) *PortAllocator {
	return &PortAllocator{
		base:     base,
		capacity: capacity,
		taken:    make(map[int]bool),
		next:     base,
	}
}

// Allocate probes candidates until a bindable port is found. Exhaustion of
// the configured range returns an unavailable error.
func (p *PortAllocator) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.capacity; i++ {
		candidate := p.base + (p.next-p.base+i)%p.capacity
		if p.taken[candidate] {
			continue
		}
		if !probePort(candidate) {
			continue
		}
		p.taken[candidate] = true
		p.next = candidate + 1
		return candidate, nil
	}

	return 0, types.NewError(types.ErrUnavailable,
		"port range [%d, %d) exhausted", p.base, p.base+p.capacity)
}

// Release returns a port to the free set. Releasing an unallocated port is a no-op.
func (p *PortAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.taken, port)
}

// Allocated returns the count of taken ports.
func (p *PortAllocator) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.taken)
}

// InRange reports whether port falls inside the configured range.
func (p *PortAllocator) InRange(port int) bool {
	return port >= p.base && port < p.base+p.capacity
}

// probePort attempts an exclusive bind on the loopback interface.
func probePort(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
