package storage

import (
	"github.com/cuemby/burrow/pkg/types"
)

// Store persists the daemon state that must survive a restart: address
// allocations, so that stale interfaces and rules can be cleaned up, and
// container records, so that orphaned runtime containers can be reaped.
type Store interface {
	// Network allocations
	PutAllocation(alloc *types.NetworkAllocation) error
	GetAllocation(containerID string) (*types.NetworkAllocation, error)
	ListAllocations() ([]*types.NetworkAllocation, error)
	DeleteAllocation(containerID string) error

	// Container records
	PutContainer(ctr *types.Container) error
	GetContainer(id string) (*types.Container, error)
	ListContainers() ([]*types.Container, error)
	DeleteContainer(id string) error

	// Small key/value settings (allocator cursor and similar)
	GetMeta(key string) (string, error)
	PutMeta(key, value string) error

	// Utility
	Close() error
}
