package handler

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/discovery"
	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/registry"
	"github.com/runbar/runbar/internal/service"
)

const maxImportSize = 4 << 20

// SettingsHandler serves settings, import/export and discovery
type SettingsHandler struct {
	ctl *service.Controller
	log *zap.Logger
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(ctl *service.Controller, log *zap.Logger) *SettingsHandler {
	return &SettingsHandler{ctl: ctl, log: log}
}

// GetSettings returns the current settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, h.ctl.Settings())
}

// UpdateSettings replaces the settings
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	s := h.ctl.Settings()
	if err := decodeBody(r, &s); err != nil {
		SendFailure(w, err)
		return
	}
	updated, err := h.ctl.UpdateSettings(s)
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendSuccess(w, updated)
}

func requestFormat(r *http.Request) (registry.Format, error) {
	name := r.URL.Query().Get("format")
	if name == "" {
		ct := r.Header.Get("Content-Type")
		switch {
		case strings.Contains(ct, "yaml"):
			name = "yaml"
		case strings.Contains(ct, "toml"):
			name = "toml"
		default:
			name = "json"
		}
	}
	format, err := registry.FormatFromPath("bundle." + name)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, registry.ErrValidation)
	}
	return format, nil
}

var contentTypes = map[registry.Format]string{
	registry.FormatJSON: "application/json",
	registry.FormatYAML: "application/yaml",
	registry.FormatTOML: "application/toml",
}

// Export writes the registry as a bundle, JSON unless ?format= says otherwise
func (h *SettingsHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r)
	if err != nil {
		SendFailure(w, err)
		return
	}
	data, err := registry.Encode(h.ctl.Export(), format)
	if err != nil {
		SendFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypes[format])
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="runbar.%s"`, format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Import merges a bundle from the request body
func (h *SettingsHandler) Import(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r)
	if err != nil {
		SendFailure(w, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize))
	if err != nil {
		SendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := registry.Decode(data, format)
	if err != nil {
		SendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.ctl.Import(b); err != nil {
		SendFailure(w, err)
		return
	}
	h.log.Info("bundle imported", zap.Int("services", len(b.Services)), zap.Int("groups", len(b.Groups)))
	SendSuccess(w, map[string]int{"services": len(b.Services), "groups": len(b.Groups)})
}

// Discover scans ?root= for projects not yet configured
func (h *SettingsHandler) Discover(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get("root")
	if root == "" {
		SendError(w, "root is required", http.StatusBadRequest)
		return
	}
	found, err := h.ctl.Discover(root)
	if err != nil {
		SendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	SendSuccess(w, found)
}

// AddDiscovered turns an accepted descriptor into a service
func (h *SettingsHandler) AddDiscovered(w http.ResponseWriter, r *http.Request) {
	var d discovery.Descriptor
	if err := decodeBody(r, &d); err != nil {
		SendFailure(w, err)
		return
	}
	svc, err := h.ctl.AddDiscovered(d)
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendJSON(w, http.StatusCreated, model.Response{Success: true, Data: svc})
}
