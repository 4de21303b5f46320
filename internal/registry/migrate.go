package registry

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/model"
)

// Migrate upgrades legacy documents in place: services without an id get
// one, and dependency or group references written as service names are
// resolved to ids. References that match nothing are dropped. Documents are
// only rewritten when something changed.
func (r *Registry) Migrate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var services []model.Service

	err := r.services.Update(func(list *[]model.Service) error {
		changed := false
		for i := range *list {
			if (*list)[i].ID == "" {
				(*list)[i].ID = uuid.NewString()
				changed = true
			}
		}

		resolve := resolver(*list)
		for i := range *list {
			deps, depsChanged := r.resolveRefs((*list)[i].Dependencies, resolve, "dependency", (*list)[i].Name)
			if depsChanged {
				(*list)[i].Dependencies = deps
				changed = true
			}
		}

		services = *list
		if !changed {
			return errUnchanged
		}
		r.log.Info("migrated services document", zap.Int("services", len(*list)))
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return err
	}

	resolve := resolver(services)
	err = r.groups.Update(func(groups *[]model.Group) error {
		changed := false
		for i := range *groups {
			if (*groups)[i].ID == "" {
				(*groups)[i].ID = uuid.NewString()
				changed = true
			}
			members, membersChanged := r.resolveRefs((*groups)[i].Services, resolve, "group member", (*groups)[i].Name)
			if membersChanged {
				(*groups)[i].Services = members
				changed = true
			}
		}
		if !changed {
			return errUnchanged
		}
		r.log.Info("migrated groups document", zap.Int("groups", len(*groups)))
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return err
	}
	return nil
}

// errUnchanged aborts a document update without writing it.
var errUnchanged = errors.New("unchanged")

// resolver maps a reference to a service id, by id first and then by name.
func resolver(services []model.Service) func(string) (string, bool) {
	byID := make(map[string]bool, len(services))
	byName := make(map[string]string, len(services))
	for _, s := range services {
		byID[s.ID] = true
		if _, seen := byName[s.Name]; !seen {
			byName[s.Name] = s.ID
		}
	}
	return func(ref string) (string, bool) {
		if byID[ref] {
			return ref, true
		}
		id, ok := byName[ref]
		return id, ok
	}
}

func (r *Registry) resolveRefs(refs []string, resolve func(string) (string, bool), kind, owner string) ([]string, bool) {
	if len(refs) == 0 {
		return refs, false
	}
	out := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	changed := false
	for _, ref := range refs {
		id, ok := resolve(ref)
		if !ok {
			r.log.Warn("dropping unknown reference",
				zap.String("kind", kind), zap.String("owner", owner), zap.String("ref", ref))
			changed = true
			continue
		}
		if id != ref {
			changed = true
		}
		if seen[id] {
			changed = true
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, changed
}
