package network

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

const cursorKey = "network.pool.next"

// Allocator hands out container addresses from the configured range. The
// search starts at a cursor that only moves forward and wraps at the end of
// the range, so a released address is handed out again only after the rest
// of the range has been tried.
type Allocator struct {
	mu    sync.Mutex
	start uint32
	end   uint32
	next  uint32
	used  map[uint32]string // address -> container id
	byID  map[string]uint32
	store storage.Store
}

// NewAllocator creates an allocator for pool. store may be nil; when set the
// cursor survives restarts.
func NewAllocator(pool config.Pool, store storage.Store) (*Allocator, error) {
	a := &Allocator{
		start: ipToUint32(pool.Start),
		end:   ipToUint32(pool.End),
		used:  make(map[uint32]string),
		byID:  make(map[string]uint32),
		store: store,
	}
	a.next = a.start

	if store != nil {
		v, err := store.GetMeta(cursorKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load address cursor: %w", err)
		}
		if v != "" {
			n, err := strconv.ParseUint(v, 10, 32)
			if err == nil && uint32(n) >= a.start && uint32(n) <= a.end {
				a.next = uint32(n)
			}
		}
	}
	return a, nil
}

// Allocate reserves the next free address for id
func (a *Allocator) Allocate(id string) (net.IP, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if addr, ok := a.byID[id]; ok {
		return nil, fmt.Errorf("container %s already holds %s: %w", id, uint32ToIP(addr), types.ErrNetworkAllocation)
	}

	size := a.end - a.start + 1
	for i := uint32(0); i < size; i++ {
		candidate := a.next
		a.advance()
		if _, taken := a.used[candidate]; taken {
			continue
		}
		a.used[candidate] = id
		a.byID[id] = candidate
		a.persistCursor()
		metrics.AddressesAllocated.Set(float64(len(a.used)))
		return uint32ToIP(candidate), nil
	}

	return nil, fmt.Errorf("pool %s-%s exhausted: %w", uint32ToIP(a.start), uint32ToIP(a.end), types.ErrNoAddressAvailable)
}

// Release returns id's address to the pool. It reports false when id holds
// no address, so each allocation is released exactly once.
func (a *Allocator) Release(id string) (net.IP, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	addr, ok := a.byID[id]
	if !ok {
		return nil, false
	}
	delete(a.byID, id)
	delete(a.used, addr)
	metrics.AddressesAllocated.Set(float64(len(a.used)))
	return uint32ToIP(addr), true
}

// Lookup returns the address held by id
func (a *Allocator) Lookup(id string) (net.IP, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, ok := a.byID[id]
	if !ok {
		return nil, false
	}
	return uint32ToIP(addr), true
}

// Allocated returns the number of addresses in use
func (a *Allocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

func (a *Allocator) advance() {
	if a.next >= a.end {
		a.next = a.start
	} else {
		a.next++
	}
}

func (a *Allocator) persistCursor() {
	if a.store == nil {
		return
	}
	// A lost cursor only changes which free address is picked next.
	_ = a.store.PutMeta(cursorKey, strconv.FormatUint(uint64(a.next), 10))
}

func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

func uint32ToIP(n uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, n)
	return ip
}
