package handlers

import (
	"errors"
	"net/http"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/Harshitk-cp/agentd/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type GoalHandler struct {
	svc   *service.GoalService
	waker Waker
}

func NewGoalHandler(svc *service.GoalService, waker Waker) *GoalHandler {
	return &GoalHandler{svc: svc, waker: waker}
}

type createGoalRequest struct {
	Type        domain.GoalType   `json:"type"`
	Description string            `json:"description"`
	Priority    int               `json:"priority"`
	Target      domain.GoalTarget `json:"target"`
}

type goalView struct {
	domain.Goal
	RemovalPending bool `json:"removal_pending,omitempty"`
}

func (h *GoalHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.GoalStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	pending := make(map[uuid.UUID]bool)
	for _, id := range h.svc.PendingRemovals() {
		pending[id] = true
	}

	var out []goalView
	for _, g := range h.svc.List() {
		if status != "" && g.Status != status {
			continue
		}
		out = append(out, goalView{Goal: g, RemovalPending: pending[g.ID]})
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (h *GoalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid goal id")
		return
	}
	g, ok := h.svc.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrGoalNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *GoalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGoalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	g, err := h.svc.Add(r.Context(), domain.Goal{
		Type:        req.Type,
		Description: req.Description,
		Priority:    req.Priority,
		Target:      req.Target,
	})
	if err != nil {
		writeServiceError(w, err, "create goal")
		return
	}
	h.waker.Wake()
	writeJSON(w, http.StatusCreated, g)
}

// Delete schedules the goal for removal. The loop drops it, and skips its
// open intentions, at the end of the next cycle.
func (h *GoalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid goal id")
		return
	}
	if err := h.svc.Remove(id); err != nil {
		if errors.Is(err, domain.ErrGoalNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove goal")
		return
	}
	h.waker.Wake()
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String(), "status": "removal_scheduled"})
}
