package registration

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sosi/kosningakerfi/internal/metrics"
)

// Flows is the per-process registry of registration flows. Each flow ID is
// mounted at most once, so a callback delivered twice reaches the same
// Machine and its latch.
type Flows struct {
	deps     Deps
	provider ProviderConfig
	opts     []Option
	retain   time.Duration
	now      func() time.Time

	mu       sync.Mutex
	machines map[string]*Machine
}

// NewFlows creates a registry. Machines that have not changed for retain are
// dropped by Sweep.
func NewFlows(deps Deps, provider ProviderConfig, retain time.Duration, opts ...Option) *Flows {
	return &Flows{
		deps:     deps,
		provider: provider,
		opts:     opts,
		retain:   retain,
		now:      time.Now,
		machines: make(map[string]*Machine),
	}
}

// Start begins a new flow and returns it with its authorization URL.
func (f *Flows) Start(ctx context.Context) (*Machine, string, error) {
	m := f.Mount(uuid.NewString())
	authURL, err := m.Begin(ctx)
	if err != nil {
		return m, "", err
	}
	return m, authURL, nil
}

// Mount returns the Machine of flowID, creating it in the Idle state when
// this process has not seen the flow, for example after a restart while the
// verifier survived in shared storage.
func (f *Flows) Mount(flowID string) *Machine {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.machines[flowID]; ok {
		return m
	}
	m := NewMachine(flowID, f.deps, f.provider, f.opts...)
	f.machines[flowID] = m
	metrics.SetActiveFlows(len(f.machines))
	return m
}

// Get returns the Machine of flowID if it is mounted.
func (f *Flows) Get(flowID string) (*Machine, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.machines[flowID]
	return m, ok
}

// Remove drops m from the registry. It reports false when m was no longer
// mounted, so of several callers racing on a finished flow exactly one sees
// true.
func (f *Flows) Remove(m *Machine) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.machines[m.ID()]; !ok || cur != m {
		return false
	}
	delete(f.machines, m.ID())
	metrics.SetActiveFlows(len(f.machines))
	return true
}

// Reject fails a callback that cannot be tied to any flow of the browser.
// It runs on a throwaway Machine that is never mounted, so the browser's
// own flow, if any, stays untouched.
func (f *Flows) Reject(ctx context.Context) State {
	m := NewMachine(uuid.NewString(), f.deps, f.provider, f.opts...)
	m.Resume(ctx, Callback{})
	return m.State()
}

// Sweep drops machines idle for longer than the retention period and
// returns how many were dropped.
func (f *Flows) Sweep() int {
	cutoff := f.now().Add(-f.retain)

	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for id, m := range f.machines {
		if m.State().UpdatedAt.Before(cutoff) {
			delete(f.machines, id)
			n++
		}
	}
	metrics.SetActiveFlows(len(f.machines))
	return n
}

// Run sweeps every interval until ctx ends.
func (f *Flows) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Sweep()
		}
	}
}
