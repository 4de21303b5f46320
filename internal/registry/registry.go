// Package registry holds the configured services, groups and settings.
// Each concern is its own JSON document, read on demand and written back
// whole on every mutation.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/store"
)

const (
	ServicesFile = "services.json"
	GroupsFile   = "groups.json"
	SettingsFile = "settings.json"
)

// Registry is the data layer over the three documents
type Registry struct {
	// mu serialises mutations. Groups are validated against the services
	// document, so a write to one must not interleave with a write to the
	// other.
	mu sync.Mutex

	dir      string
	services *store.Document[[]model.Service]
	groups   *store.Document[[]model.Group]
	settings *store.Document[model.Settings]
	log      *zap.Logger
}

// Open prepares the documents under dir and migrates legacy references.
func Open(dir string, log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	r := &Registry{
		dir: dir,
		services: store.NewDocument(filepath.Join(dir, ServicesFile), "services",
			func() []model.Service { return []model.Service{} }, log),
		groups: store.NewDocument(filepath.Join(dir, GroupsFile), "groups",
			func() []model.Group { return []model.Group{} }, log),
		settings: store.NewDocument(filepath.Join(dir, SettingsFile), "",
			model.DefaultSettings, log),
		log: log,
	}

	if err := r.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate registry: %w", err)
	}
	return r, nil
}

// Dir returns the data directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Services returns every configured service.
func (r *Registry) Services() []model.Service {
	return r.services.Load()
}

// Service returns the service with the given id.
func (r *Registry) Service(id string) (model.Service, error) {
	svc, ok := lo.Find(r.services.Load(), func(s model.Service) bool { return s.ID == id })
	if !ok {
		return model.Service{}, fmt.Errorf("service %q: %w", id, ErrNotFound)
	}
	return svc, nil
}

// Resolve finds a service by id, falling back to the first service with
// that name.
func (r *Registry) Resolve(ref string) (model.Service, error) {
	services := r.services.Load()
	if svc, ok := lo.Find(services, func(s model.Service) bool { return s.ID == ref }); ok {
		return svc, nil
	}
	if svc, ok := lo.Find(services, func(s model.Service) bool { return s.Name == ref }); ok {
		return svc, nil
	}
	return model.Service{}, fmt.Errorf("service %q: %w", ref, ErrNotFound)
}

// AddService stores a new service, assigning an id when none is set.
func (r *Registry) AddService(svc model.Service) (model.Service, error) {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	svc = cleanService(svc)

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.services.Update(func(services *[]model.Service) error {
		known := idSet(*services)
		if known[svc.ID] {
			return invalid("id", "service %q already exists", svc.ID)
		}
		if err := ValidateService(svc, known); err != nil {
			return err
		}
		*services = append(*services, svc)
		return nil
	})
	if err != nil {
		return model.Service{}, err
	}

	r.log.Info("service added", zap.String("id", svc.ID), zap.String("name", svc.Name))
	return svc, nil
}

// UpdateService replaces the stored record with the same id.
func (r *Registry) UpdateService(svc model.Service) (model.Service, error) {
	svc = cleanService(svc)

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.services.Update(func(services *[]model.Service) error {
		_, idx, ok := lo.FindIndexOf(*services, func(s model.Service) bool { return s.ID == svc.ID })
		if !ok {
			return fmt.Errorf("service %q: %w", svc.ID, ErrNotFound)
		}
		if err := ValidateService(svc, idSet(*services)); err != nil {
			return err
		}
		(*services)[idx] = svc
		return nil
	})
	if err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

// DeleteService removes a service and strips its id from every dependency
// list and group. Callers stop the process first.
func (r *Registry) DeleteService(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.services.Update(func(services *[]model.Service) error {
		before := len(*services)
		kept := lo.Filter(*services, func(s model.Service, _ int) bool { return s.ID != id })
		if len(kept) == before {
			return fmt.Errorf("service %q: %w", id, ErrNotFound)
		}
		for i := range kept {
			kept[i].Dependencies = lo.Without(kept[i].Dependencies, id)
		}
		*services = kept
		return nil
	})
	if err != nil {
		return err
	}

	if err := r.groups.Update(func(groups *[]model.Group) error {
		for i := range *groups {
			(*groups)[i].Services = lo.Without((*groups)[i].Services, id)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to update groups: %w", err)
	}

	r.log.Info("service deleted", zap.String("id", id))
	return nil
}

// Groups returns every configured group.
func (r *Registry) Groups() []model.Group {
	return r.groups.Load()
}

// Group returns the group with the given id.
func (r *Registry) Group(id string) (model.Group, error) {
	g, ok := lo.Find(r.groups.Load(), func(g model.Group) bool { return g.ID == id })
	if !ok {
		return model.Group{}, fmt.Errorf("group %q: %w", id, ErrNotFound)
	}
	return g, nil
}

// AddGroup stores a new group.
func (r *Registry) AddGroup(g model.Group) (model.Group, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.Name = strings.TrimSpace(g.Name)
	g.Services = lo.Uniq(g.Services)

	r.mu.Lock()
	defer r.mu.Unlock()
	known := idSet(r.services.Load())

	err := r.groups.Update(func(groups *[]model.Group) error {
		if lo.ContainsBy(*groups, func(existing model.Group) bool { return existing.ID == g.ID }) {
			return invalid("id", "group %q already exists", g.ID)
		}
		if err := ValidateGroup(g, known); err != nil {
			return err
		}
		*groups = append(*groups, g)
		return nil
	})
	if err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// UpdateGroup replaces the stored group with the same id.
func (r *Registry) UpdateGroup(g model.Group) (model.Group, error) {
	g.Name = strings.TrimSpace(g.Name)
	g.Services = lo.Uniq(g.Services)

	r.mu.Lock()
	defer r.mu.Unlock()
	known := idSet(r.services.Load())

	err := r.groups.Update(func(groups *[]model.Group) error {
		_, idx, ok := lo.FindIndexOf(*groups, func(existing model.Group) bool { return existing.ID == g.ID })
		if !ok {
			return fmt.Errorf("group %q: %w", g.ID, ErrNotFound)
		}
		if err := ValidateGroup(g, known); err != nil {
			return err
		}
		(*groups)[idx] = g
		return nil
	})
	if err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// DeleteGroup removes a group. Member services are untouched.
func (r *Registry) DeleteGroup(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups.Update(func(groups *[]model.Group) error {
		before := len(*groups)
		*groups = lo.Filter(*groups, func(g model.Group, _ int) bool { return g.ID != id })
		if len(*groups) == before {
			return fmt.Errorf("group %q: %w", id, ErrNotFound)
		}
		return nil
	})
}

// Settings returns the settings document, defaults filled in.
func (r *Registry) Settings() model.Settings {
	return normalizeSettings(r.settings.Load())
}

// UpdateSettings validates and stores s.
func (r *Registry) UpdateSettings(s model.Settings) (model.Settings, error) {
	s.Version = model.SettingsVersion
	if err := ValidateSettings(s); err != nil {
		return model.Settings{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.settings.Save(s); err != nil {
		return model.Settings{}, err
	}
	return s, nil
}

func cleanService(svc model.Service) model.Service {
	svc.Name = strings.TrimSpace(svc.Name)
	svc.Path = strings.TrimSpace(svc.Path)
	svc.Command = strings.TrimSpace(svc.Command)
	svc.Dependencies = lo.Uniq(svc.Dependencies)
	return svc
}
