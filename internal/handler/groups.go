package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/service"
)

// GroupHandler serves groups and bulk actions
type GroupHandler struct {
	ctl *service.Controller
	log *zap.Logger
}

// NewGroupHandler creates a group handler.
func NewGroupHandler(ctl *service.Controller, log *zap.Logger) *GroupHandler {
	return &GroupHandler{ctl: ctl, log: log}
}

// ListGroups returns all groups with member status
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, h.ctl.Groups())
}

// CreateGroup stores a new group
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var g model.Group
	if err := decodeBody(r, &g); err != nil {
		SendFailure(w, err)
		return
	}
	created, err := h.ctl.AddGroup(g)
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendJSON(w, http.StatusCreated, model.Response{Success: true, Data: created})
}

// UpdateGroup replaces a group
func (h *GroupHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var g model.Group
	if err := decodeBody(r, &g); err != nil {
		SendFailure(w, err)
		return
	}
	g.ID = chi.URLParam(r, "id")
	updated, err := h.ctl.UpdateGroup(g)
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendSuccess(w, updated)
}

// DeleteGroup removes a group
func (h *GroupHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.DeleteGroup(chi.URLParam(r, "id")); err != nil {
		SendFailure(w, err)
		return
	}
	SendSuccess(w, nil)
}

// HandleGroupAction handles start, stop and toggle
func (h *GroupHandler) HandleGroupAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var (
			res service.GroupResult
			err error
		)
		switch action {
		case "start":
			res, err = h.ctl.StartGroup(r.Context(), id)
		case "stop":
			res, err = h.ctl.StopGroup(id)
		case "toggle":
			res, err = h.ctl.ToggleGroup(r.Context(), id)
		default:
			SendError(w, "Unknown action", http.StatusBadRequest)
			return
		}
		if err != nil {
			SendFailure(w, err)
			return
		}
		h.log.Info("group action",
			zap.String("group", id),
			zap.String("action", string(res.Action)),
			zap.Int("succeeded", len(res.Succeeded)),
			zap.Int("failed", len(res.Failed)))
		SendSuccess(w, res)
	}
}
