package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/model"
)

// supervised is the part of the Supervisor the poller drives.
type supervised interface {
	reconcile() []exitReport
	startAuto(ctx context.Context, svc model.Service) bool
	Status(id string) model.Status
}

type restartState struct {
	attempts int
	last     time.Time
	disabled bool
	cancel   func() bool // pending restart timer
}

// HealthPoller reconciles believed process state with the operating system
// and is the only place automatic restarts are decided.
type HealthPoller struct {
	sup    supervised
	source ServiceSource
	bus    *event.Bus
	log    *zap.Logger

	now      func() time.Time
	schedule func(d time.Duration, fn func()) (cancel func() bool)

	mu    sync.Mutex
	state map[string]*restartState

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHealthPoller creates a poller and installs it as sup's restart authority.
func NewHealthPoller(sup *Supervisor, source ServiceSource, bus *event.Bus, log *zap.Logger) *HealthPoller {
	h := newHealthPoller(sup, source, bus, log)
	sup.SetRestartAuthority(h)
	return h
}

func newHealthPoller(sup supervised, source ServiceSource, bus *event.Bus, log *zap.Logger) *HealthPoller {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthPoller{
		sup:    sup,
		source: source,
		bus:    bus,
		log:    log,
		now:    time.Now,
		schedule: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
		state:  make(map[string]*restartState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run polls at the configured interval until ctx is done. Cycles never
// overlap because they run on this goroutine.
func (h *HealthPoller) Run(ctx context.Context) {
	interval := h.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.log.Info("health poller started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Poll()
			if next := h.interval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (h *HealthPoller) interval() time.Duration {
	if d := h.source.Settings().PollInterval(); d > 0 {
		return d
	}
	return model.DefaultSettings().PollInterval()
}

// Poll runs one reconciliation cycle.
func (h *HealthPoller) Poll() {
	for _, r := range h.sup.reconcile() {
		h.HandleAbnormalExit(r.svc, r.code)
	}
}

// HandleAbnormalExit schedules a restart for an auto-restart service that
// died. Attempts within the cooldown of the previous one accumulate; once
// the ceiling is reached auto-restart stays off until Reset.
func (h *HealthPoller) HandleAbnormalExit(svc model.Service, code int) {
	if !svc.AutoRestart {
		return
	}
	settings := h.source.Settings()
	now := h.now()

	h.mu.Lock()
	st, ok := h.state[svc.ID]
	if !ok {
		st = &restartState{}
		h.state[svc.ID] = st
	}
	if st.disabled {
		h.mu.Unlock()
		return
	}
	if !st.last.IsZero() && now.Sub(st.last) > settings.Cooldown() {
		st.attempts = 0
	}
	if st.attempts >= settings.MaxRestartAttempts {
		st.disabled = true
		attempts := st.attempts
		h.mu.Unlock()

		h.log.Warn("auto-restart disabled after repeated failures",
			zap.String("service", svc.Name), zap.Int("attempts", attempts), zap.Int("exit_code", code))
		h.bus.Publish(event.Event{
			Type:      event.RestartDisabled,
			ServiceID: svc.ID,
			Message:   fmt.Sprintf("auto-restart disabled after %d attempts", attempts),
		})
		return
	}

	st.attempts++
	st.last = now
	attempt := st.attempts
	if st.cancel != nil {
		st.cancel()
	}
	backoff := settings.Backoff()
	id := svc.ID
	st.cancel = h.schedule(backoff, func() { h.restart(id) })
	h.mu.Unlock()

	restartsTotal.WithLabelValues(svc.Name).Inc()
	h.log.Info("scheduling restart",
		zap.String("service", svc.Name),
		zap.Int("attempt", attempt),
		zap.Int("exit_code", code),
		zap.Duration("backoff", backoff))
	h.bus.Publish(event.Event{
		Type:      event.RestartScheduled,
		ServiceID: svc.ID,
		Message:   fmt.Sprintf("restart %d/%d in %s", attempt, settings.MaxRestartAttempts, backoff),
	})
}

// restart runs a scheduled restart against the current registry record.
func (h *HealthPoller) restart(id string) {
	h.mu.Lock()
	st, ok := h.state[id]
	pending := ok && !st.disabled
	if ok {
		st.cancel = nil
	}
	h.mu.Unlock()
	if !pending {
		return
	}

	svc, err := h.source.Service(id)
	if err != nil {
		h.log.Info("skipping restart of removed service", zap.String("service", id))
		h.Reset(id)
		return
	}
	if !svc.AutoRestart || h.sup.Status(id).Live() {
		return
	}

	h.log.Info("Restarting service", zap.String("service", svc.Name))
	h.sup.startAuto(h.ctx, svc)
}

// Reset forgets restart history for a service and cancels a pending restart.
func (h *HealthPoller) Reset(serviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.state[serviceID]; ok {
		if st.cancel != nil {
			st.cancel()
		}
		delete(h.state, serviceID)
	}
}

// RestartState reports the attempt counter, the last attempt and whether
// auto-restart has been disabled.
func (h *HealthPoller) RestartState(serviceID string) (int, *time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.state[serviceID]
	if !ok {
		return 0, nil, false
	}
	var last *time.Time
	if !st.last.IsZero() {
		t := st.last
		last = &t
	}
	return st.attempts, last, st.disabled
}

// Stop cancels pending restarts.
func (h *HealthPoller) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, st := range h.state {
		if st.cancel != nil {
			st.cancel()
			st.cancel = nil
		}
	}
}
