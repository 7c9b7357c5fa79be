package storage

import (
	"errors"
	"net"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllocationLifecycle(t *testing.T) {
	s := newTestStore(t)

	alloc := &types.NetworkAllocation{
		ContainerID: "c1",
		IPv4:        net.ParseIP("100.64.11.2").To4(),
		VethName:    "veth0",
		BridgeName:  "burrow0",
		Rules: types.RuleHandle{Name: "c1", Chains: []types.ChainRef{
			{Family: "ipv4", Table: "nat", Parent: "PREROUTING", Chain: "BURROW-0a1b2c3d-PRE"},
		}},
	}
	require.NoError(t, s.PutAllocation(alloc))

	got, err := s.GetAllocation("c1")
	require.NoError(t, err)
	assert.True(t, alloc.IPv4.Equal(got.IPv4))
	assert.Equal(t, "veth0", got.VethName)
	assert.Equal(t, alloc.Rules, got.Rules)

	all, err := s.ListAllocations()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteAllocation("c1"))
	_, err = s.GetAllocation("c1")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestContainerRecords(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutContainer(&types.Container{ID: "a", BundlePath: "/b/a", Pid: 10, State: types.StateRunning}))
	require.NoError(t, s.PutContainer(&types.Container{ID: "b", BundlePath: "/b/b", Pid: 11, State: types.StateRunning}))

	got, err := s.GetContainer("a")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Pid)

	list, err := s.ListContainers()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeleteContainer("a"))
	require.NoError(t, s.DeleteContainer("missing"))
	_, err = s.GetContainer("a")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestMetaSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)

	v, err := s.GetMeta("pool.next")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.PutMeta("pool.next", "17"))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	v, err = s.GetMeta("pool.next")
	require.NoError(t, err)
	assert.Equal(t, "17", v)
}
