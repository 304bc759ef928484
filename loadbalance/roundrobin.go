package loadbalance

import (
	"fmt"
	"sync/atomic"

	"github.com/adrianchifor/arrpc/registry"
)

// RoundRobinBalancer walks the instance list in order. The atomic counter
// keeps Pick lock-free and safe to share.
type RoundRobinBalancer struct {
	counter atomic.Int64
}

func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}
	index := b.counter.Add(1) % int64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
