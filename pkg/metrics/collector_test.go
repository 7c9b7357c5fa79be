package metrics

import (
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type staticSource []*types.Container

func (s staticSource) List() []*types.Container { return s }

func TestCollectorCountsStates(t *testing.T) {
	src := staticSource{
		{ID: "a", State: types.StateRunning, Network: &types.NetworkAllocation{}},
		{ID: "b", State: types.StateRunning},
		{ID: "c", State: types.StatePaused, Network: &types.NetworkAllocation{}},
	}

	c := NewCollector(src, 0)
	c.collect()

	assert.Equal(t, float64(2), testutil.ToFloat64(ContainersTotal.WithLabelValues("running")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ContainersTotal.WithLabelValues("paused")))
	assert.Equal(t, float64(0), testutil.ToFloat64(ContainersTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(AddressesAllocated))
}
