package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/Harshitk-cp/agentd/internal/loop"
)

const (
	defaultCycleLimit = 20
	maxCycleLimit     = 500
)

// LoopSource is the part of the loop the status surface reads.
type LoopSource interface {
	Waker
	Status() loop.Status
	Cycles(limit int) []domain.CycleRecord
}

type LoopHandler struct {
	loop LoopSource
}

func NewLoopHandler(l LoopSource) *LoopHandler {
	return &LoopHandler{loop: l}
}

func (h *LoopHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loop.Status())
}

// Cycles returns the most recent cycle records, newest first.
func (h *LoopHandler) Cycles(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultCycleLimit, maxCycleLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newList(h.loop.Cycles(limit)))
}

// Wake asks the loop to start its next cycle without waiting out the interval.
func (h *LoopHandler) Wake(w http.ResponseWriter, r *http.Request) {
	h.loop.Wake()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "woken"})
}
