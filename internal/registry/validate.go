package registry

import (
	"strings"

	"github.com/runbar/runbar/internal/model"
)

// ValidateService checks the fields every stored service must carry.
// known holds the ids a dependency may point at.
func ValidateService(svc model.Service, known map[string]bool) error {
	if strings.TrimSpace(svc.ID) == "" {
		return invalid("id", "is required")
	}
	if strings.TrimSpace(svc.Name) == "" {
		return invalid("name", "is required")
	}
	if strings.TrimSpace(svc.Path) == "" {
		return invalid("path", "is required")
	}
	if svc.TrimmedCommand() == "" {
		return invalid("command", "is required")
	}
	if svc.StartupDelay < 0 {
		return invalid("startupDelay", "must not be negative")
	}
	for _, dep := range svc.Dependencies {
		if dep == svc.ID {
			return invalid("dependencies", "service cannot depend on itself")
		}
		if known != nil && !known[dep] {
			return invalid("dependencies", "unknown service %q", dep)
		}
	}
	return nil
}

// ValidateGroup checks a group and its member references.
func ValidateGroup(g model.Group, known map[string]bool) error {
	if strings.TrimSpace(g.ID) == "" {
		return invalid("id", "is required")
	}
	if strings.TrimSpace(g.Name) == "" {
		return invalid("name", "is required")
	}
	for _, id := range g.Services {
		if known != nil && !known[id] {
			return invalid("services", "unknown service %q", id)
		}
	}
	return nil
}

// ValidateSettings rejects settings no component can run with.
func ValidateSettings(s model.Settings) error {
	switch {
	case s.LogStorageLimit <= 0:
		return invalid("logStorageLimit", "must be positive")
	case s.StatusPollingInterval < 100:
		return invalid("statusPollingInterval", "must be at least 100ms")
	case s.ShutdownTimeout <= 0:
		return invalid("shutdownTimeout", "must be positive")
	case s.MaxRestartAttempts <= 0:
		return invalid("maxRestartAttempts", "must be positive")
	case s.RestartCooldown <= 0:
		return invalid("restartCooldown", "must be positive")
	case s.RestartBackoff <= 0:
		return invalid("restartBackoff", "must be positive")
	}
	return nil
}

// normalizeSettings fills fields missing from older documents with defaults.
// Stored values are always positive because ValidateSettings rejects zero.
func normalizeSettings(s model.Settings) model.Settings {
	def := model.DefaultSettings()
	s.Version = model.SettingsVersion
	if s.DiscoveryMarkers == nil {
		s.DiscoveryMarkers = def.DiscoveryMarkers
	}
	if s.LogStorageLimit <= 0 {
		s.LogStorageLimit = def.LogStorageLimit
	}
	if s.StatusPollingInterval <= 0 {
		s.StatusPollingInterval = def.StatusPollingInterval
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = def.ShutdownTimeout
	}
	if s.MaxRestartAttempts <= 0 {
		s.MaxRestartAttempts = def.MaxRestartAttempts
	}
	if s.RestartCooldown <= 0 {
		s.RestartCooldown = def.RestartCooldown
	}
	if s.RestartBackoff <= 0 {
		s.RestartBackoff = def.RestartBackoff
	}
	return s
}

func idSet(services []model.Service) map[string]bool {
	known := make(map[string]bool, len(services))
	for _, s := range services {
		known[s.ID] = true
	}
	return known
}
