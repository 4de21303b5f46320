// Package desktop binds the controller to a Wails window.
package desktop

import (
	"context"
	"fmt"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/discovery"
	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/registry"
	"github.com/runbar/runbar/internal/service"
)

// EventPrefix namespaces every event emitted to the frontend.
const EventPrefix = "runbar:"

// App holds the window state and exposes the controller to the frontend
type App struct {
	ctx context.Context
	ctl *service.Controller
	log *zap.Logger

	emit func(ctx context.Context, name string, data ...interface{})

	// Stream cancellation
	streamMu      sync.Mutex
	activeStreams map[string]context.CancelFunc
}

// NewApp creates a new App instance
func NewApp(ctl *service.Controller, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		ctl:           ctl,
		log:           log,
		emit:          runtime.EventsEmit,
		activeStreams: make(map[string]context.CancelFunc),
	}
}

// Startup is called when the app starts
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	events, unsubscribe := a.ctl.Subscribe()
	a.track("events", unsubscribe)
	go a.forward(events)

	go func() {
		started := a.ctl.AutoStart(ctx)
		if len(started) > 0 {
			a.log.Info("auto-started services", zap.Strings("services", started))
		}
	}()
}

// forward relays core events until the subscription closes.
func (a *App) forward(events <-chan event.Event) {
	for e := range events {
		a.emit(a.ctx, EventPrefix+string(e.Type), e)
	}
}

// Shutdown is called when the app is closing
func (a *App) Shutdown(ctx context.Context) {
	// Cancel all active streams
	a.streamMu.Lock()
	for _, cancel := range a.activeStreams {
		cancel()
	}
	a.activeStreams = make(map[string]context.CancelFunc)
	a.streamMu.Unlock()

	a.ctl.Shutdown()
}

func (a *App) track(id string, cancel func()) {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	if existing, ok := a.activeStreams[id]; ok {
		existing()
	}
	a.activeStreams[id] = cancel
}

func (a *App) untrack(id string) {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	if cancel, ok := a.activeStreams[id]; ok {
		cancel()
		delete(a.activeStreams, id)
	}
}

// ====================
// Services API
// ====================

// ListServices returns every service with its live state
func (a *App) ListServices() []model.ServiceView {
	return a.ctl.Services()
}

// GetService returns one service with its live state
func (a *App) GetService(id string) (model.ServiceView, error) {
	return a.ctl.Service(id)
}

// AddService stores a new service
func (a *App) AddService(svc model.Service) (model.Service, error) {
	return a.ctl.AddService(svc)
}

// UpdateService stores an edited service
func (a *App) UpdateService(svc model.Service) (model.Service, error) {
	return a.ctl.UpdateService(svc)
}

// DeleteService stops and removes a service
func (a *App) DeleteService(id string) error {
	return a.ctl.DeleteService(id)
}

func (a *App) serviceResult(action, id string, ok bool, err error) (model.ServiceView, error) {
	if err != nil {
		return model.ServiceView{}, err
	}
	view, err := a.ctl.Service(id)
	if err != nil {
		return model.ServiceView{}, err
	}
	if !ok {
		return view, fmt.Errorf("%s %s failed (status %s)", action, view.Name, view.Status)
	}
	return view, nil
}

// StartService starts a service and its dependencies
func (a *App) StartService(id string) (model.ServiceView, error) {
	ok, err := a.ctl.Start(a.ctx, id)
	return a.serviceResult("start", id, ok, err)
}

// StopService stops a service
func (a *App) StopService(id string) (model.ServiceView, error) {
	ok, err := a.ctl.Stop(id)
	return a.serviceResult("stop", id, ok, err)
}

// RestartService stops and starts a service
func (a *App) RestartService(id string) (model.ServiceView, error) {
	ok, err := a.ctl.Restart(a.ctx, id)
	return a.serviceResult("restart", id, ok, err)
}

// GetLogs returns the buffered log lines of a service
func (a *App) GetLogs(id string) []string {
	return a.ctl.Logs(id)
}

// StartServiceLogsStream streams new log lines of a service
// Emits: runbar:logs and runbar:logs:done
func (a *App) StartServiceLogsStream(id string) error {
	if _, err := a.ctl.Service(id); err != nil {
		return err
	}
	streamID := "logs:" + id
	lines, unsubscribe := a.ctl.SubscribeLogs(id)
	a.track(streamID, unsubscribe)

	go func() {
		for line := range lines {
			a.emit(a.ctx, EventPrefix+"logs", map[string]interface{}{
				"service": id,
				"line":    line,
			})
		}
		a.emit(a.ctx, EventPrefix+"logs:done", map[string]interface{}{
			"service": id,
		})
	}()
	return nil
}

// StopServiceLogsStream stops an active log stream
func (a *App) StopServiceLogsStream(id string) {
	a.untrack("logs:" + id)
}

// ====================
// Groups API
// ====================

// ListGroups returns every group with member state
func (a *App) ListGroups() []model.GroupView {
	return a.ctl.Groups()
}

// AddGroup stores a new group
func (a *App) AddGroup(g model.Group) (model.Group, error) {
	return a.ctl.AddGroup(g)
}

// UpdateGroup stores an edited group
func (a *App) UpdateGroup(g model.Group) (model.Group, error) {
	return a.ctl.UpdateGroup(g)
}

// DeleteGroup removes a group
func (a *App) DeleteGroup(id string) error {
	return a.ctl.DeleteGroup(id)
}

// StartGroup starts every member
func (a *App) StartGroup(id string) (service.GroupResult, error) {
	return a.ctl.StartGroup(a.ctx, id)
}

// StopGroup stops every member
func (a *App) StopGroup(id string) (service.GroupResult, error) {
	return a.ctl.StopGroup(id)
}

// ToggleGroup starts or stops a group as a whole
func (a *App) ToggleGroup(id string) (service.GroupResult, error) {
	return a.ctl.ToggleGroup(a.ctx, id)
}

// ====================
// Settings API
// ====================

// GetSettings returns the current settings
func (a *App) GetSettings() model.Settings {
	return a.ctl.Settings()
}

// UpdateSettings stores new settings
func (a *App) UpdateSettings(s model.Settings) (model.Settings, error) {
	return a.ctl.UpdateSettings(s)
}

// ExportConfig asks for a destination and writes the registry there
func (a *App) ExportConfig() (string, error) {
	path, err := runtime.SaveFileDialog(a.ctx, runtime.SaveDialogOptions{
		Title:           "Export configuration",
		DefaultFilename: "runbar.json",
		Filters: []runtime.FileFilter{
			{DisplayName: "Configuration (*.json;*.yaml;*.yml;*.toml)", Pattern: "*.json;*.yaml;*.yml;*.toml"},
		},
	})
	if err != nil || path == "" {
		return "", err
	}
	if err := a.ctl.Registry().ExportFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// ImportConfig asks for a bundle file and merges it into the registry
func (a *App) ImportConfig() (map[string]int, error) {
	path, err := runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Import configuration",
		Filters: []runtime.FileFilter{
			{DisplayName: "Configuration (*.json;*.yaml;*.yml;*.toml)", Pattern: "*.json;*.yaml;*.yml;*.toml"},
		},
	})
	if err != nil || path == "" {
		return nil, err
	}
	return a.importFile(path)
}

func (a *App) importFile(path string) (map[string]int, error) {
	b, err := a.ctl.Registry().ImportFile(path)
	if err != nil {
		return nil, err
	}
	return map[string]int{"services": len(b.Services), "groups": len(b.Groups)}, nil
}

// ExportBundle returns the registry for the frontend to save itself
func (a *App) ExportBundle() registry.Bundle {
	return a.ctl.Export()
}

// ====================
// Discovery API
// ====================

// ChooseDirectory opens a folder picker
func (a *App) ChooseDirectory() (string, error) {
	return runtime.OpenDirectoryDialog(a.ctx, runtime.OpenDialogOptions{Title: "Scan for projects"})
}

// Discover scans root for projects not yet configured
func (a *App) Discover(root string) ([]discovery.Descriptor, error) {
	return a.ctl.Discover(root)
}

// AddDiscovered turns an accepted descriptor into a service
func (a *App) AddDiscovered(d discovery.Descriptor) (model.Service, error) {
	return a.ctl.AddDiscovered(d)
}

// Prerequisites reports the tools Runbar relies on
func (a *App) Prerequisites() []model.Prerequisite {
	return service.CheckPrerequisites()
}
