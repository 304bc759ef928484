package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const etcdEndpoint = "127.0.0.1:2379"

// newTestRegistry skips the test when no local etcd is reachable, so the
// suite stays runnable without infrastructure.
func newTestRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{etcdEndpoint})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := reg.client.Status(ctx, etcdEndpoint); err != nil {
		t.Skipf("etcd not available at %s: %v", etcdEndpoint, err)
	}
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	require.NoError(t, reg.Register(ctx, "echo", inst1, 10))
	require.NoError(t, reg.Register(ctx, "echo", inst2, 10))
	t.Cleanup(func() {
		reg.Deregister(ctx, "echo", inst1.Addr)
		reg.Deregister(ctx, "echo", inst2.Addr)
	})

	instances, err := reg.Discover(ctx, "echo")
	require.NoError(t, err)
	require.Len(t, instances, 2)

	require.NoError(t, reg.Deregister(ctx, "echo", inst1.Addr))
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "echo")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, inst2.Addr, instances[0].Addr)
}

func TestWatchSeesChanges(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := reg.Watch(ctx, "watched")

	inst := ServiceInstance{Addr: "127.0.0.1:8003", Weight: 1}
	require.NoError(t, reg.Register(ctx, "watched", inst, 10))
	t.Cleanup(func() { reg.Deregister(context.Background(), "watched", inst.Addr) })

	select {
	case instances := <-ch:
		require.Len(t, instances, 1)
		require.Equal(t, inst.Addr, instances[0].Addr)
	case <-ctx.Done():
		t.Fatal("watch emitted nothing after registration")
	}
}
