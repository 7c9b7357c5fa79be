package metrics

import (
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Source lists the containers the collector reports on
type Source interface {
	List() []*types.Container
}

// Collector periodically refreshes gauges derived from the container registry
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := map[types.State]int{
		types.StateStarting: 0,
		types.StateRunning:  0,
		types.StatePaused:   0,
		types.StateStopping: 0,
		types.StateStopped:  0,
		types.StateFailed:   0,
	}
	allocated := 0

	for _, ctr := range c.source.List() {
		counts[ctr.State]++
		if ctr.Network != nil {
			allocated++
		}
	}

	for state, n := range counts {
		ContainersTotal.WithLabelValues(string(state)).Set(float64(n))
	}
	AddressesAllocated.Set(float64(allocated))
}
