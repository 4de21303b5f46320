package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/runbar/runbar/internal/model"
)

// BundleVersion is the only import/export version understood.
const BundleVersion = 1

// Bundle is the portable form of the whole registry
type Bundle struct {
	Version  int             `json:"version" yaml:"version" toml:"version"`
	Services []model.Service `json:"services" yaml:"services" toml:"services"`
	Groups   []model.Group   `json:"groups" yaml:"groups" toml:"groups"`
	Settings *model.Settings `json:"settings,omitempty" yaml:"settings,omitempty" toml:"settings,omitempty"`
}

// Format is a bundle encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported file extension %q (use .json, .yaml or .toml)", filepath.Ext(path))
	}
}

// Encode serializes a bundle.
func Encode(b Bundle, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(b, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(b); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatTOML:
		return toml.Marshal(b)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Decode parses a bundle and checks its version.
func Decode(data []byte, format Format) (Bundle, error) {
	var b Bundle
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &b)
	case FormatYAML:
		err = yaml.Unmarshal(data, &b)
	case FormatTOML:
		err = toml.Unmarshal(data, &b)
	default:
		return Bundle{}, fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to parse %s bundle: %w", format, err)
	}
	if b.Version != BundleVersion {
		return Bundle{}, fmt.Errorf("bundle version %d: %w", b.Version, ErrUnsupportedVersion)
	}
	return b, nil
}

// Export snapshots the registry.
func (r *Registry) Export() Bundle {
	settings := r.Settings()
	return Bundle{
		Version:  BundleVersion,
		Services: r.Services(),
		Groups:   r.Groups(),
		Settings: &settings,
	}
}

// ExportFile writes the registry to path, encoded by its extension.
func (r *Registry) ExportFile(path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Encode(r.Export(), format)
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// ImportFile reads a bundle from path and merges it into the registry.
func (r *Registry) ImportFile(path string) (Bundle, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return Bundle{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to read import: %w", err)
	}
	b, err := Decode(data, format)
	if err != nil {
		return Bundle{}, err
	}
	if err := r.Import(b); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// Import merges a bundle into the registry. Records are matched by id:
// existing ones are replaced, new ones appended. Settings, when present,
// replace the current settings. Nothing is written unless the whole merged
// result validates.
func (r *Registry) Import(b Bundle) error {
	if b.Version != BundleVersion {
		return fmt.Errorf("bundle version %d: %w", b.Version, ErrUnsupportedVersion)
	}

	for i := range b.Services {
		if b.Services[i].ID == "" {
			b.Services[i].ID = uuid.NewString()
		}
		b.Services[i] = cleanService(b.Services[i])
	}
	for i := range b.Groups {
		if b.Groups[i].ID == "" {
			b.Groups[i].ID = uuid.NewString()
		}
	}

	if b.Settings != nil {
		settings := *b.Settings
		settings.Version = model.SettingsVersion
		if err := ValidateSettings(settings); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
		b.Settings = &settings
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Both documents are merged and validated inside the services critical
	// section; nothing is written unless every record passes.
	var groups []model.Group
	err := r.services.Update(func(list *[]model.Service) error {
		services := mergeByID(*list, b.Services, func(s model.Service) string { return s.ID })
		groups = mergeByID(r.groups.Load(), b.Groups, func(g model.Group) string { return g.ID })

		// Bundles written by hand may reference services by name.
		resolve := resolver(services)
		byRef := func(refs []string) []string {
			out := make([]string, 0, len(refs))
			for _, ref := range refs {
				if id, ok := resolve(ref); ok {
					ref = id
				}
				out = append(out, ref)
			}
			return out
		}
		for i := range services {
			if len(services[i].Dependencies) > 0 {
				services[i].Dependencies = byRef(services[i].Dependencies)
			}
		}
		for i := range groups {
			groups[i].Services = byRef(groups[i].Services)
		}

		known := idSet(services)
		for _, svc := range services {
			if err := ValidateService(svc, known); err != nil {
				return fmt.Errorf("service %q: %w", svc.Name, err)
			}
		}
		for _, g := range groups {
			if err := ValidateGroup(g, known); err != nil {
				return fmt.Errorf("group %q: %w", g.Name, err)
			}
		}
		*list = services
		return nil
	})
	if err != nil {
		return err
	}

	if err := r.groups.Update(func(list *[]model.Group) error {
		*list = groups
		return nil
	}); err != nil {
		return err
	}
	if b.Settings != nil {
		if err := r.settings.Save(*b.Settings); err != nil {
			return err
		}
	}

	r.log.Info("imported bundle",
		zap.Int("services", len(b.Services)), zap.Int("groups", len(b.Groups)))
	return nil
}

func mergeByID[T any](current, incoming []T, key func(T) string) []T {
	out := make([]T, len(current), len(current)+len(incoming))
	copy(out, current)
	index := make(map[string]int, len(out))
	for i, item := range out {
		index[key(item)] = i
	}
	for _, item := range incoming {
		if i, ok := index[key(item)]; ok {
			out[i] = item
			continue
		}
		index[key(item)] = len(out)
		out = append(out, item)
	}
	return out
}
