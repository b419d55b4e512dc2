package directory

import (
	"fmt"
	"sync/atomic"
)

// RoundRobin distributes picks evenly across all instances in order.
// Best for stateless agents where every instance has similar capacity.
type RoundRobin struct {
	counter int64
}

func (b *RoundRobin) Pick(instances []PeerInstance) (*PeerInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("directory: no instances available")
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobin) Name() string { return "RoundRobin" }
