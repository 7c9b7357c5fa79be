package manager

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// Descriptors are small integer handles for containers, unique among
// registered containers and reused after removal
const (
	minDescriptor = 1
	maxDescriptor = 1023
)

func (m *Manager) allocDescriptorLocked(id string) (int, error) {
	for d := minDescriptor; d <= maxDescriptor; d++ {
		if _, taken := m.descriptors[d]; !taken {
			m.descriptors[d] = id
			return d, nil
		}
	}
	return 0, fmt.Errorf("no free descriptor for %s: %w", id, errdefs.ErrResourceExhausted)
}

// Lookup returns the id of the container holding descriptor d
func (m *Manager) Lookup(d int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.descriptors[d]
	return id, ok
}
