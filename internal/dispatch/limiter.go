package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// TenantLimiter caps concurrent outbound submissions per tenant. All
// campaigns of one tenant share the same budget; Acquire suspends until a
// slot frees or the context is cancelled.
type TenantLimiter struct {
	mu    sync.Mutex
	sems  map[string]*semaphore.Weighted
	slots int64
}

func NewTenantLimiter(slotsPerTenant int) *TenantLimiter {
	if slotsPerTenant < 1 {
		slotsPerTenant = 1
	}
	return &TenantLimiter{
		sems:  make(map[string]*semaphore.Weighted),
		slots: int64(slotsPerTenant),
	}
}

func (l *TenantLimiter) sem(tenantID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[tenantID]
	if !ok {
		sem = semaphore.NewWeighted(l.slots)
		l.sems[tenantID] = sem
	}
	return sem
}

func (l *TenantLimiter) Acquire(ctx context.Context, tenantID string) error {
	return l.sem(tenantID).Acquire(ctx, 1)
}

func (l *TenantLimiter) Release(tenantID string) {
	l.sem(tenantID).Release(1)
}
