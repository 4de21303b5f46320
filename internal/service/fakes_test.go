package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/registry"
)

// fakeSource is an in-memory ServiceSource.
type fakeSource struct {
	mu       sync.Mutex
	services map[string]model.Service
	order    []string
	settings model.Settings
}

func newFakeSource(services ...model.Service) *fakeSource {
	s := model.DefaultSettings()
	s.ShutdownTimeout = 1000
	f := &fakeSource{services: make(map[string]model.Service), settings: s}
	for _, svc := range services {
		f.put(svc)
	}
	return f
}

func (f *fakeSource) put(svc model.Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.services[svc.ID]; !ok {
		f.order = append(f.order, svc.ID)
	}
	f.services[svc.ID] = svc
}

func (f *fakeSource) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.services, id)
}

func (f *fakeSource) Service(id string) (model.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[id]
	if !ok {
		return model.Service{}, fmt.Errorf("service %q: %w", id, registry.ErrNotFound)
	}
	return svc, nil
}

func (f *fakeSource) Resolve(ref string) (model.Service, error) {
	if svc, err := f.Service(ref); err == nil {
		return svc, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if svc, ok := f.services[id]; ok && svc.Name == ref {
			return svc, nil
		}
	}
	return model.Service{}, fmt.Errorf("service %q: %w", ref, registry.ErrNotFound)
}

func (f *fakeSource) Settings() model.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeSource) update(fn func(*model.Settings)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.settings)
}

// fakeInspector reports ports as busy while their predicate holds.
type fakeInspector struct {
	mu        sync.Mutex
	busy      map[int]func() bool
	occupants map[int]*Occupant
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{busy: make(map[int]func() bool), occupants: make(map[int]*Occupant)}
}

func (f *fakeInspector) occupy(port int, occ *Occupant, while func() bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if while == nil {
		while = func() bool { return true }
	}
	f.busy[port] = while
	f.occupants[port] = occ
}

func (f *fakeInspector) InUse(port int) bool {
	f.mu.Lock()
	fn, ok := f.busy[port]
	f.mu.Unlock()
	return ok && fn()
}

func (f *fakeInspector) Occupant(port int) *Occupant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.occupants[port]
}

// fakePrompter returns a fixed decision and records what it was asked.
type fakePrompter struct {
	mu        sync.Mutex
	decision  Decision
	err       error
	conflicts []Conflict
}

func (f *fakePrompter) Prompt(ctx context.Context, c Conflict) (Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts = append(f.conflicts, c)
	return f.decision, f.err
}

func (f *fakePrompter) asked() []Conflict {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Conflict(nil), f.conflicts...)
}

// fakeSupervised drives the poller without real processes.
type fakeSupervised struct {
	mu      sync.Mutex
	reports []exitReport
	status  map[string]model.Status
	starts  []string
}

func newFakeSupervised() *fakeSupervised {
	return &fakeSupervised{status: make(map[string]model.Status)}
}

func (f *fakeSupervised) reconcile() []exitReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.reports
	f.reports = nil
	return r
}

func (f *fakeSupervised) startAuto(ctx context.Context, svc model.Service) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, svc.ID)
	return true
}

func (f *fakeSupervised) Status(id string) model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.status[id]; ok {
		return s
	}
	return model.StatusStopped
}

func (f *fakeSupervised) started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.starts...)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTimers captures scheduled restarts instead of running them.
type fakeTimers struct {
	mu        sync.Mutex
	pending   []func()
	cancelled int
}

func (t *fakeTimers) schedule(d time.Duration, fn func()) func() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, fn)
	return func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.cancelled++
		return true
	}
}

// fire runs and clears every pending restart.
func (t *fakeTimers) fire() int {
	t.mu.Lock()
	fns := t.pending
	t.pending = nil
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}
