package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/config"
	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/logger"
	"github.com/runbar/runbar/internal/registry"
	"github.com/runbar/runbar/internal/service"
)

// core is one wired instance of registry, supervisor and controller.
type core struct {
	cfg *config.Config
	log *zap.Logger
	bus *event.Bus
	ctl *service.Controller

	prompter *switchPrompter
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type bootOptions struct {
	console     bool             // log to stderr as well as the log file
	interactive service.Prompter // asked when no on_conflict policy is set
	background  bool             // run the health poller and the registry watcher
}

// bootstrap loads the configuration and wires registry, supervisor, health
// poller and controller.
func bootstrap(opts bootOptions) (*core, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Console: opts.console})
	if err != nil {
		return nil, err
	}

	reg, err := registry.Open(cfg.DataDir, log.Named("registry"))
	if err != nil {
		return nil, err
	}

	prompter := &switchPrompter{}
	if cfg.OnConflict != "" {
		d, err := service.ParseDecision(cfg.OnConflict)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", config.KeyOnConflict, err)
		}
		prompter.fixed = true
		prompter.set(service.StaticPrompter{Decision: d})
	} else if opts.interactive != nil {
		prompter.set(opts.interactive)
	}

	bus := event.NewBus(256)
	sup := service.NewSupervisor(service.Options{
		Source:    reg,
		Bus:       bus,
		Log:       log.Named("supervisor"),
		Inspector: service.NewOSPortInspector(log.Named("ports")),
		Prompter:  prompter,
	})
	poller := service.NewHealthPoller(sup, reg, bus, log.Named("health"))
	ctl := service.NewController(reg, sup, poller, bus, log)

	ctx, cancel := context.WithCancel(context.Background())
	rt := &core{cfg: cfg, log: log, bus: bus, ctl: ctl, prompter: prompter, cancel: cancel}

	if opts.background {
		rt.wg.Add(2)
		go func() {
			defer rt.wg.Done()
			poller.Run(ctx)
		}()
		go func() {
			defer rt.wg.Done()
			if err := reg.Watch(ctx, bus); err != nil {
				log.Warn("registry watch stopped", zap.Error(err))
			}
		}()
	}

	log.Debug("runtime ready", zap.String("data_dir", cfg.DataDir), zap.String("on_conflict", cfg.OnConflict))
	return rt, nil
}

// close stops every process this runtime started.
func (rt *core) close() {
	rt.ctl.Shutdown()
	rt.cancel()
	rt.wg.Wait()
	rt.bus.Close()
	_ = rt.log.Sync()
}

// switchPrompter forwards to a prompter installed after the supervisor is
// built. The desktop dialog needs the app, which needs the controller.
type switchPrompter struct {
	mu    sync.RWMutex
	p     service.Prompter
	fixed bool // an on_conflict policy wins over later installs
}

func (s *switchPrompter) set(p service.Prompter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

// install sets p unless a configured policy is already in place.
func (s *switchPrompter) install(p service.Prompter) {
	if s.fixed {
		return
	}
	s.set(p)
}

func (s *switchPrompter) Prompt(ctx context.Context, c service.Conflict) (service.Decision, error) {
	s.mu.RLock()
	p := s.p
	s.mu.RUnlock()
	if p == nil {
		return service.DecisionIgnore, nil
	}
	return p.Prompt(ctx, c)
}
