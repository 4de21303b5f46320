package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/model"
)

type pollerFixture struct {
	poller *HealthPoller
	sup    *fakeSupervised
	source *fakeSource
	clock  *fakeClock
	timers *fakeTimers
	events <-chan event.Event
}

func newPollerFixture(t *testing.T, services ...model.Service) *pollerFixture {
	t.Helper()
	source := newFakeSource(services...)
	source.update(func(s *model.Settings) {
		s.MaxRestartAttempts = 3
		s.RestartCooldown = 30000
		s.RestartBackoff = 10
	})
	sup := newFakeSupervised()
	bus := event.NewBus(64)
	events, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	timers := &fakeTimers{}
	h := newHealthPoller(sup, source, bus, nil)
	h.now = clock.Now
	h.schedule = timers.schedule
	t.Cleanup(h.Stop)

	return &pollerFixture{poller: h, sup: sup, source: source, clock: clock, timers: timers, events: events}
}

func drain(ch <-chan event.Event) []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func ofType(events []event.Event, typ event.Type) []event.Event {
	var out []event.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

var crashy = model.Service{ID: "svc-1", Name: "crashy", Path: "/c", Command: "exit 1", AutoRestart: true}

func TestHandleAbnormalExit_CeilingDisablesUntilReset(t *testing.T) {
	f := newPollerFixture(t, crashy)

	for i := 1; i <= 3; i++ {
		f.poller.HandleAbnormalExit(crashy, 1)
		require.Equal(t, 1, f.timers.fire(), "attempt %d should schedule a restart", i)
		f.clock.Advance(time.Second)
	}
	assert.Equal(t, []string{"svc-1", "svc-1", "svc-1"}, f.sup.started())

	// Fourth crash inside the cooldown hits the ceiling.
	f.poller.HandleAbnormalExit(crashy, 1)
	assert.Equal(t, 0, f.timers.fire())

	attempts, last, disabled := f.poller.RestartState("svc-1")
	assert.Equal(t, 3, attempts)
	assert.True(t, disabled)
	require.NotNil(t, last)

	events := drain(f.events)
	assert.Len(t, ofType(events, event.RestartScheduled), 3)
	assert.Len(t, ofType(events, event.RestartDisabled), 1)

	// Further crashes stay ignored.
	f.clock.Advance(time.Hour)
	f.poller.HandleAbnormalExit(crashy, 1)
	assert.Equal(t, 0, f.timers.fire())

	// A manual start resets the counter.
	f.poller.Reset("svc-1")
	attempts, _, disabled = f.poller.RestartState("svc-1")
	assert.Zero(t, attempts)
	assert.False(t, disabled)

	f.poller.HandleAbnormalExit(crashy, 1)
	assert.Equal(t, 1, f.timers.fire())
	attempts, _, _ = f.poller.RestartState("svc-1")
	assert.Equal(t, 1, attempts)
}

func TestHandleAbnormalExit_CooldownResetsCounter(t *testing.T) {
	f := newPollerFixture(t, crashy)

	f.poller.HandleAbnormalExit(crashy, 1)
	f.clock.Advance(time.Second)
	f.poller.HandleAbnormalExit(crashy, 1)
	attempts, _, _ := f.poller.RestartState("svc-1")
	require.Equal(t, 2, attempts)

	f.clock.Advance(31 * time.Second)
	f.poller.HandleAbnormalExit(crashy, 1)
	attempts, _, disabled := f.poller.RestartState("svc-1")
	assert.Equal(t, 1, attempts)
	assert.False(t, disabled)
}

func TestHandleAbnormalExit_IgnoresServicesWithoutAutoRestart(t *testing.T) {
	plain := crashy
	plain.AutoRestart = false
	f := newPollerFixture(t, plain)

	f.poller.HandleAbnormalExit(plain, 1)
	assert.Equal(t, 0, f.timers.fire())
	attempts, _, _ := f.poller.RestartState(plain.ID)
	assert.Zero(t, attempts)
}

func TestRestart_SkipsDeletedService(t *testing.T) {
	f := newPollerFixture(t, crashy)

	f.poller.HandleAbnormalExit(crashy, 1)
	f.source.remove(crashy.ID)
	f.timers.fire()

	assert.Empty(t, f.sup.started())
}

func TestRestart_SkipsLiveService(t *testing.T) {
	f := newPollerFixture(t, crashy)

	f.poller.HandleAbnormalExit(crashy, 1)
	f.sup.mu.Lock()
	f.sup.status[crashy.ID] = model.StatusRunning
	f.sup.mu.Unlock()
	f.timers.fire()

	assert.Empty(t, f.sup.started())
}

func TestRestart_UsesCurrentRegistryRecord(t *testing.T) {
	f := newPollerFixture(t, crashy)

	f.poller.HandleAbnormalExit(crashy, 1)
	edited := crashy
	edited.AutoRestart = false
	f.source.put(edited)
	f.timers.fire()

	assert.Empty(t, f.sup.started())
}

func TestReset_CancelsPendingRestart(t *testing.T) {
	f := newPollerFixture(t, crashy)

	f.poller.HandleAbnormalExit(crashy, 1)
	f.poller.Reset(crashy.ID)
	assert.Equal(t, 1, f.timers.cancelled)
}

func TestPoll_ForwardsDeadProcesses(t *testing.T) {
	other := model.Service{ID: "svc-2", Name: "steady", Path: "/s", Command: "x"}
	f := newPollerFixture(t, crashy, other)

	f.sup.mu.Lock()
	f.sup.reports = []exitReport{{svc: crashy, code: -1}, {svc: other, code: -1}}
	f.sup.mu.Unlock()

	f.poller.Poll()
	assert.Equal(t, 1, f.timers.fire())
	assert.Equal(t, []string{"svc-1"}, f.sup.started())

	// Reports are consumed once.
	f.poller.Poll()
	assert.Equal(t, 0, f.timers.fire())
}
