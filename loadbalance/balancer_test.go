package loadbalance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adrianchifor/arrpc/registry"
)

func TestRoundRobinCycles(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "127.0.0.1:8001"},
		{Addr: "127.0.0.1:8002"},
		{Addr: "127.0.0.1:8003"},
	}

	b := &RoundRobinBalancer{}
	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		inst, err := b.Pick(instances)
		require.NoError(t, err)
		seen[inst.Addr]++
	}

	for _, inst := range instances {
		require.Equal(t, 3, seen[inst.Addr])
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick(nil)
	require.Error(t, err)
}

func TestWeightedRandomRespectsZeroWeight(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "127.0.0.1:8001", Weight: 0},
		{Addr: "127.0.0.1:8002", Weight: 10},
	}

	b := &WeightedRandomBalancer{}
	for i := 0; i < 50; i++ {
		inst, err := b.Pick(instances)
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:8002", inst.Addr)
	}
}

func TestWeightedRandomAllZeroWeights(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "127.0.0.1:8001"},
		{Addr: "127.0.0.1:8002"},
	}

	b := &WeightedRandomBalancer{}
	inst, err := b.Pick(instances)
	require.NoError(t, err)
	require.NotNil(t, inst)
}

func TestWeightedRandomEmpty(t *testing.T) {
	b := &WeightedRandomBalancer{}
	_, err := b.Pick([]registry.ServiceInstance{})
	require.Error(t, err)
}

func TestNames(t *testing.T) {
	require.Equal(t, "RoundRobin", (&RoundRobinBalancer{}).Name())
	require.Equal(t, "WeightedRandom", (&WeightedRandomBalancer{}).Name())
}
