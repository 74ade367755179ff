package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/Harshitk-cp/agentd/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type IntentionHandler struct {
	stack *service.IntentionStack
}

func NewIntentionHandler(stack *service.IntentionStack) *IntentionHandler {
	return &IntentionHandler{stack: stack}
}

type intentionsResponse struct {
	Items    []domain.Intention             `json:"items"`
	Count    int                            `json:"count"`
	ByStatus map[domain.IntentionStatus]int `json:"by_status"`
}

// List filters by goal_id, plan_id and status query parameters.
func (h *IntentionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f service.IntentionFilter
	for name, dst := range map[string]**uuid.UUID{"goal_id": &f.GoalID, "plan_id": &f.PlanID} {
		s := q.Get(name)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = &id
	}
	if s := domain.IntentionStatus(q.Get("status")); s != "" {
		if !s.IsOpen() && !s.IsTerminal() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		f.Status = s
	}

	list := newList(h.stack.List(f))
	writeJSON(w, http.StatusOK, intentionsResponse{
		Items:    list.Items,
		Count:    list.Count,
		ByStatus: h.stack.Counts(),
	})
}

func (h *IntentionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid intention id")
		return
	}
	it, ok := h.stack.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrIntentionNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, it)
}
