// Package license tracks per-SKU license pools for a single run and
// grants seats without ever over-allocating.
package license

import (
	"sync"

	"github.com/bulkprov/bulkprov/internal/directory"
	"github.com/bulkprov/bulkprov/internal/model"
)

// SKU part numbers of the pools this tool allocates from.
const (
	PartNumberE1    = "STANDARDPACK"
	PartNumberE3    = "ENTERPRISEPACK"
	PartNumberTeams = "TEAMS1"
)

// Pool is one license pool's remaining capacity at load time.
type Pool struct {
	PartNumber string
	SKUID      string
	Available  int
}

// FromSubscribedSKUs converts the tenant's SKU listing into pools,
// keeping only the SKUs this tool knows how to assign. Available units
// never start below zero even if the tenant is over-consumed.
func FromSubscribedSKUs(skus []directory.SubscribedSKU) []Pool {
	var pools []Pool
	for _, sku := range skus {
		switch sku.SKUPartNumber {
		case PartNumberE1, PartNumberE3, PartNumberTeams:
			available := sku.PrepaidUnits.Enabled - sku.ConsumedUnits
			if available < 0 {
				available = 0
			}
			pools = append(pools, Pool{
				PartNumber: sku.SKUPartNumber,
				SKUID:      sku.SKUID,
				Available:  available,
			})
		}
	}
	return pools
}

// Allocator hands out license seats from in-memory pool counters.
// Counters are monotonically non-increasing within a run and never go
// below zero. The check-then-decrement pair is guarded so the invariant
// holds even if rows were ever processed concurrently.
type Allocator struct {
	mu     sync.Mutex
	byKind map[model.LicenseType]*Pool
	teams  *Pool
}

// NewAllocator builds an allocator from the loaded pools. A pool that is
// absent from the tenant simply never grants.
func NewAllocator(pools []Pool) *Allocator {
	a := &Allocator{byKind: make(map[model.LicenseType]*Pool)}
	for i := range pools {
		pool := &pools[i]
		switch pool.PartNumber {
		case PartNumberE1:
			a.byKind[model.LicenseE1] = pool
		case PartNumberE3:
			a.byKind[model.LicenseE3] = pool
		case PartNumberTeams:
			a.teams = pool
		}
	}
	return a
}

// TryAllocate grants one seat of the requested kind plus one Teams seat.
// Both pools must have capacity; on grant both are decremented and the
// SKU identifiers to assign are returned, type pool first. Unknown kinds
// never reach the allocator; they are handled by the caller.
func (a *Allocator) TryAllocate(kind model.LicenseType) (bool, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pool, ok := a.byKind[kind]
	if !ok || a.teams == nil {
		return false, nil
	}
	if pool.Available <= 0 || a.teams.Available <= 0 {
		return false, nil
	}

	pool.Available--
	a.teams.Available--
	return true, []string{pool.SKUID, a.teams.SKUID}
}

// Remaining reports the units left in the pool for a license kind.
func (a *Allocator) Remaining(kind model.LicenseType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pool, ok := a.byKind[kind]; ok {
		return pool.Available
	}
	return 0
}

// RemainingTeams reports the units left in the shared Teams pool.
func (a *Allocator) RemainingTeams() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.teams == nil {
		return 0
	}
	return a.teams.Available
}
