// Package loadbalance selects one service instance out of a discovered
// set. The client consults its balancer each time it starts a fresh
// connect sequence, not per call: the chosen instance stays pinned for the
// lifetime of the connection.
package loadbalance

import "github.com/adrianchifor/arrpc/registry"

// Balancer picks one instance from the available list. Implementations
// must be goroutine-safe; distinct clients may share one balancer.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
