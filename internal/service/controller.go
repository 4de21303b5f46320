package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/discovery"
	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/registry"
)

// GroupAction is what a group toggle decided to do
type GroupAction string

const (
	GroupStarted GroupAction = "start"
	GroupStopped GroupAction = "stop"
)

// GroupResult lists the outcome of a group operation per member
type GroupResult struct {
	Action    GroupAction `json:"action"`
	Succeeded []string    `json:"succeeded"`
	Failed    []string    `json:"failed"`
}

// Controller is the boundary every presentation layer talks to. It joins
// the registry with the supervisor and never prompts on its own.
type Controller struct {
	reg    *registry.Registry
	sup    *Supervisor
	poller *HealthPoller
	bus    *event.Bus
	log    *zap.Logger
}

// NewController wires the core components together.
func NewController(reg *registry.Registry, sup *Supervisor, poller *HealthPoller, bus *event.Bus, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{reg: reg, sup: sup, poller: poller, bus: bus, log: log}
}

// Registry exposes the underlying registry.
func (c *Controller) Registry() *registry.Registry {
	return c.reg
}

// Services returns every configured service joined with its live state.
func (c *Controller) Services() []model.ServiceView {
	services := c.reg.Services()
	views := make([]model.ServiceView, 0, len(services))
	for _, svc := range services {
		views = append(views, c.view(svc))
	}
	return views
}

// Service returns one service joined with its live state.
func (c *Controller) Service(id string) (model.ServiceView, error) {
	svc, err := c.reg.Service(id)
	if err != nil {
		return model.ServiceView{}, err
	}
	return c.view(svc), nil
}

func (c *Controller) view(svc model.Service) model.ServiceView {
	v := model.ServiceView{Service: svc, Status: model.StatusStopped}
	if p, ok := c.sup.Process(svc.ID); ok {
		v.Status = p.Status
		v.PID = p.PID
		v.ExitCode = p.ExitCode
		v.Error = p.Error
		v.Adopted = p.Adopted
		v.RestartAttempts = p.RestartAttempts
		if p.Status.Live() && !p.StartTime.IsZero() {
			t := p.StartTime
			v.StartTime = &t
		}
		if p.Status == model.StatusError {
			v.LastOutput = lastLines(c.sup.Logs(svc.ID), 10)
		}
	}
	return v
}

func lastLines(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// Start starts a service by id.
func (c *Controller) Start(ctx context.Context, id string) (bool, error) {
	svc, err := c.reg.Service(id)
	if err != nil {
		return false, err
	}
	return c.sup.StartService(ctx, svc), nil
}

// Stop stops a service by id.
func (c *Controller) Stop(id string) (bool, error) {
	svc, err := c.reg.Service(id)
	if err != nil {
		return false, err
	}
	return c.sup.StopService(svc), nil
}

// Restart stops a service if needed and starts it again.
func (c *Controller) Restart(ctx context.Context, id string) (bool, error) {
	svc, err := c.reg.Service(id)
	if err != nil {
		return false, err
	}
	return c.sup.Restart(ctx, svc), nil
}

// Status returns the status of a service. Unknown ids are stopped.
func (c *Controller) Status(id string) model.Status {
	return c.sup.Status(id)
}

// Logs returns the buffered log lines of a service, newest last.
func (c *Controller) Logs(id string) []string {
	return c.sup.Logs(id)
}

// SubscribeLogs streams new log lines of a live service.
func (c *Controller) SubscribeLogs(id string) (<-chan string, func()) {
	return c.sup.SubscribeLogs(id)
}

// FollowLogs returns the buffered log lines of a service and streams the
// ones written after them.
func (c *Controller) FollowLogs(id string) ([]string, <-chan string, func()) {
	return c.sup.FollowLogs(id)
}

// Subscribe streams every core event.
func (c *Controller) Subscribe() (<-chan event.Event, func()) {
	return c.bus.Subscribe()
}

// AddService validates and stores a new service.
func (c *Controller) AddService(svc model.Service) (model.Service, error) {
	return c.reg.AddService(svc)
}

// UpdateService stores an edited service. A running process keeps the
// definition it was started with until restarted.
func (c *Controller) UpdateService(svc model.Service) (model.Service, error) {
	return c.reg.UpdateService(svc)
}

// DeleteService stops the service if it is live, then removes it and every
// reference to it.
func (c *Controller) DeleteService(id string) error {
	svc, err := c.reg.Service(id)
	if err != nil {
		return err
	}
	if c.sup.Status(id).Live() {
		c.sup.StopService(svc)
	}
	if c.poller != nil {
		c.poller.Reset(id)
	}
	return c.reg.DeleteService(id)
}

// Groups returns every group with its members' live state.
func (c *Controller) Groups() []model.GroupView {
	groups := c.reg.Groups()
	views := make([]model.GroupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, c.groupView(g))
	}
	return views
}

// Group returns one group with its members' live state.
func (c *Controller) Group(id string) (model.GroupView, error) {
	g, err := c.reg.Group(id)
	if err != nil {
		return model.GroupView{}, err
	}
	return c.groupView(g), nil
}

func (c *Controller) groupView(g model.Group) model.GroupView {
	v := model.GroupView{Group: g, Members: make([]model.ServiceView, 0, len(g.Services))}
	for _, id := range g.Services {
		svc, err := c.reg.Service(id)
		if err != nil {
			continue
		}
		member := c.view(svc)
		if member.Status == model.StatusRunning {
			v.Running++
		}
		v.Members = append(v.Members, member)
	}
	return v
}

// AddGroup stores a new group.
func (c *Controller) AddGroup(g model.Group) (model.Group, error) {
	return c.reg.AddGroup(g)
}

// UpdateGroup stores an edited group.
func (c *Controller) UpdateGroup(g model.Group) (model.Group, error) {
	return c.reg.UpdateGroup(g)
}

// DeleteGroup removes a group. Member services keep running.
func (c *Controller) DeleteGroup(id string) error {
	return c.reg.DeleteGroup(id)
}

func (c *Controller) members(id string) ([]model.Service, error) {
	g, err := c.reg.Group(id)
	if err != nil {
		return nil, err
	}
	services := make([]model.Service, 0, len(g.Services))
	for _, sid := range g.Services {
		svc, err := c.reg.Service(sid)
		if err != nil {
			c.log.Warn("group references missing service", zap.String("group", g.Name), zap.String("service", sid))
			continue
		}
		services = append(services, svc)
	}
	return services, nil
}

// StartGroup starts every member that is not running, one after another
// in membership order.
func (c *Controller) StartGroup(ctx context.Context, id string) (GroupResult, error) {
	services, err := c.members(id)
	if err != nil {
		return GroupResult{}, err
	}
	return c.startAll(ctx, services), nil
}

func (c *Controller) startAll(ctx context.Context, services []model.Service) GroupResult {
	res := GroupResult{Action: GroupStarted, Succeeded: []string{}, Failed: []string{}}
	for _, svc := range services {
		if c.sup.Status(svc.ID) == model.StatusRunning || c.sup.StartService(ctx, svc) {
			res.Succeeded = append(res.Succeeded, svc.ID)
			continue
		}
		res.Failed = append(res.Failed, svc.ID)
	}
	return res
}

// StopGroup stops every live member.
func (c *Controller) StopGroup(id string) (GroupResult, error) {
	services, err := c.members(id)
	if err != nil {
		return GroupResult{}, err
	}
	return c.stopAll(services), nil
}

func (c *Controller) stopAll(services []model.Service) GroupResult {
	res := GroupResult{Action: GroupStopped, Succeeded: []string{}, Failed: []string{}}
	for _, svc := range services {
		if !c.sup.Status(svc.ID).Live() || c.sup.StopService(svc) {
			res.Succeeded = append(res.Succeeded, svc.ID)
			continue
		}
		res.Failed = append(res.Failed, svc.ID)
	}
	return res
}

// ToggleGroup starts every member when any member is not running, and
// stops every member when all of them are running.
func (c *Controller) ToggleGroup(ctx context.Context, id string) (GroupResult, error) {
	services, err := c.members(id)
	if err != nil {
		return GroupResult{}, err
	}
	allRunning := len(services) > 0 && lo.EveryBy(services, func(svc model.Service) bool {
		return c.sup.Status(svc.ID) == model.StatusRunning
	})
	if allRunning {
		return c.stopAll(services), nil
	}
	return c.startAll(ctx, services), nil
}

// Settings returns the current settings.
func (c *Controller) Settings() model.Settings {
	return c.reg.Settings()
}

// UpdateSettings validates and stores new settings.
func (c *Controller) UpdateSettings(s model.Settings) (model.Settings, error) {
	return c.reg.UpdateSettings(s)
}

// Export snapshots the registry.
func (c *Controller) Export() registry.Bundle {
	return c.reg.Export()
}

// Import merges a bundle into the registry.
func (c *Controller) Import(b registry.Bundle) error {
	return c.reg.Import(b)
}

// Discover scans root for projects that are not configured yet.
func (c *Controller) Discover(root string) ([]discovery.Descriptor, error) {
	found, err := discovery.Scan(root, c.reg.Settings().DiscoveryMarkers, discovery.DefaultDepth)
	if err != nil {
		return nil, err
	}
	known := lo.SliceToMap(c.reg.Services(), func(s model.Service) (string, bool) { return s.Path, true })
	return lo.Filter(found, func(d discovery.Descriptor, _ int) bool { return !known[d.Path] }), nil
}

// AddDiscovered turns an accepted descriptor into a service.
func (c *Controller) AddDiscovered(d discovery.Descriptor) (model.Service, error) {
	if d.Command == "" {
		return model.Service{}, fmt.Errorf("no start command for %s: %w", d.Path, registry.ErrValidation)
	}
	return c.reg.AddService(model.Service{
		Name:        d.Name,
		Path:        d.Path,
		Command:     d.Command,
		ProjectType: d.ProjectType,
	})
}

// AutoStart starts services and groups flagged autoStart, when the global
// switch is on. Each service is started at most once.
func (c *Controller) AutoStart(ctx context.Context) []string {
	if !c.reg.Settings().GlobalAutoStart {
		return nil
	}

	ids := lo.FilterMap(c.reg.Services(), func(s model.Service, _ int) (string, bool) { return s.ID, s.AutoStart })
	for _, g := range c.reg.Groups() {
		if g.AutoStart {
			ids = append(ids, g.Services...)
		}
	}
	ids = lo.Uniq(ids)

	var started []string
	for _, id := range ids {
		svc, err := c.reg.Service(id)
		if err != nil {
			continue
		}
		if c.sup.Status(id) == model.StatusRunning || c.sup.StartService(ctx, svc) {
			started = append(started, id)
		}
	}
	sort.Strings(started)
	c.log.Info("auto-start complete", zap.Int("requested", len(ids)), zap.Int("running", len(started)))
	return started
}

// Shutdown stops every process and pending restart.
func (c *Controller) Shutdown() {
	if c.poller != nil {
		c.poller.Stop()
	}
	c.sup.StopAllServices()
	c.sup.Close()
}

// IsNotFound reports whether err means an unknown service or group.
func IsNotFound(err error) bool {
	return errors.Is(err, registry.ErrNotFound)
}
