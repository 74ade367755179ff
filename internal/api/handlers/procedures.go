package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
)

// ProcedureHandler exposes what reflection has learned about plan shapes.
type ProcedureHandler struct {
	agentID uuid.UUID
	store   domain.ProcedureStore
}

func NewProcedureHandler(agentID uuid.UUID, store domain.ProcedureStore) *ProcedureHandler {
	return &ProcedureHandler{agentID: agentID, store: store}
}

func (h *ProcedureHandler) List(w http.ResponseWriter, r *http.Request) {
	goalType := domain.GoalType(r.URL.Query().Get("goal_type"))
	if goalType != "" && !goalType.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid goal_type")
		return
	}
	procs, err := h.store.ListProcedures(r.Context(), h.agentID, goalType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list procedures")
		return
	}
	writeJSON(w, http.StatusOK, newList(procs))
}
