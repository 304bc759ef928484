// Package registry provides optional service discovery for servers and
// clients. A server registers the address it advertises under a service
// name; clients resolve a service name to the currently live instances
// before connecting. Without a registry, clients dial a static host:port.
package registry

import "context"

// ServiceInstance is one advertised server address plus load balancing
// metadata.
type ServiceInstance struct {
	Addr    string
	Weight  int
	Version string
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
