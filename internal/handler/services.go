package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/service"
)

// ServiceHandler serves service definitions and their processes
type ServiceHandler struct {
	ctl *service.Controller
	log *zap.Logger
}

// NewServiceHandler creates a service handler.
func NewServiceHandler(ctl *service.Controller, log *zap.Logger) *ServiceHandler {
	return &ServiceHandler{ctl: ctl, log: log}
}

// ListServices returns all services with their status
func (h *ServiceHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, h.ctl.Services())
}

// GetService returns one service with its status
func (h *ServiceHandler) GetService(w http.ResponseWriter, r *http.Request) {
	view, err := h.ctl.Service(chi.URLParam(r, "id"))
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendSuccess(w, view)
}

// CreateService stores a new service
func (h *ServiceHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	var svc model.Service
	if err := decodeBody(r, &svc); err != nil {
		SendFailure(w, err)
		return
	}
	created, err := h.ctl.AddService(svc)
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendJSON(w, http.StatusCreated, model.Response{Success: true, Data: created})
}

// UpdateService replaces a service definition
func (h *ServiceHandler) UpdateService(w http.ResponseWriter, r *http.Request) {
	var svc model.Service
	if err := decodeBody(r, &svc); err != nil {
		SendFailure(w, err)
		return
	}
	svc.ID = chi.URLParam(r, "id")
	updated, err := h.ctl.UpdateService(svc)
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendSuccess(w, updated)
}

// DeleteService stops and removes a service
func (h *ServiceHandler) DeleteService(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.DeleteService(chi.URLParam(r, "id")); err != nil {
		SendFailure(w, err)
		return
	}
	SendSuccess(w, nil)
}

// HandleServiceAction handles start, stop and restart
func (h *ServiceHandler) HandleServiceAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var (
			ok  bool
			err error
		)
		switch action {
		case "start":
			ok, err = h.ctl.Start(r.Context(), id)
		case "stop":
			ok, err = h.ctl.Stop(id)
		case "restart":
			ok, err = h.ctl.Restart(r.Context(), id)
		default:
			SendError(w, "Unknown action", http.StatusBadRequest)
			return
		}
		if err != nil {
			SendFailure(w, err)
			return
		}

		view, _ := h.ctl.Service(id)
		if !ok {
			h.log.Info("service action had no effect", zap.String("service", id), zap.String("action", action))
			SendJSON(w, http.StatusConflict, model.Response{
				Success: false,
				Message: fmt.Sprintf("%s %s failed (status %s)", action, view.Name, view.Status),
				Data:    view,
			})
			return
		}
		SendSuccess(w, view)
	}
}

// GetServiceLogs returns the buffered log lines
func (h *ServiceHandler) GetServiceLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.ctl.Service(id); err != nil {
		SendFailure(w, err)
		return
	}
	SendSuccess(w, h.ctl.Logs(id))
}

// HandleServiceLogsStream streams service logs as server-sent events.
// Buffered lines are sent first.
func (h *ServiceHandler) HandleServiceLogsStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.ctl.Service(id); err != nil {
		SendFailure(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	backlog, lines, unsubscribe := h.ctl.FollowLogs(id)
	defer unsubscribe()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for _, line := range backlog {
		fmt.Fprintf(w, "data: %s\n\n", line)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				fmt.Fprint(w, "event: end\ndata: \n\n")
				flusher.Flush()
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}
