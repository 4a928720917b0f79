// Package flowstore keeps registration flow data (the PKCE verifier) between
// the redirect to the identity provider and the callback.
//
// Every key belongs to a flow ID. Take reads and deletes in one step so a
// value can be consumed at most once.
package flowstore

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process flow store for single-instance deployments.
type Memory struct {
	mu    sync.Mutex
	flows map[string]*memoryFlow
	now   func() time.Time
}

type memoryFlow struct {
	values    map[string]string
	expiresAt time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		flows: make(map[string]*memoryFlow),
		now:   time.Now,
	}
}

// Put stores value under key for flowID. The whole flow expires ttl after
// its most recent write.
func (m *Memory) Put(ctx context.Context, flowID, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.lookup(flowID)
	if f == nil {
		f = &memoryFlow{values: make(map[string]string)}
		m.flows[flowID] = f
	}
	f.values[key] = value
	f.expiresAt = m.now().Add(ttl)
	return nil
}

// Take returns and removes the value under key for flowID.
func (m *Memory) Take(ctx context.Context, flowID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.lookup(flowID)
	if f == nil {
		return "", false, nil
	}
	v, ok := f.values[key]
	if !ok {
		return "", false, nil
	}
	delete(f.values, key)
	return v, true, nil
}

// Clear removes everything stored for flowID.
func (m *Memory) Clear(ctx context.Context, flowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.flows, flowID)
	return nil
}

// Sweep drops expired flows and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for id, f := range m.flows {
		if !now.Before(f.expiresAt) {
			delete(m.flows, id)
			n++
		}
	}
	return n
}

// lookup returns the live flow or nil; m.mu must be held.
func (m *Memory) lookup(flowID string) *memoryFlow {
	f, ok := m.flows[flowID]
	if !ok {
		return nil
	}
	if !m.now().Before(f.expiresAt) {
		delete(m.flows, flowID)
		return nil
	}
	return f
}
