package handlers

import (
	"errors"
	"net/http"

	"github.com/Harshitk-cp/agentd/internal/capability"
	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CapabilityHandler struct {
	registry *capability.Registry
}

func NewCapabilityHandler(registry *capability.Registry) *CapabilityHandler {
	return &CapabilityHandler{registry: registry}
}

// List describes every registered capability. With ?health=true each one is
// probed first.
func (h *CapabilityHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.Describe()
	if r.URL.Query().Get("health") == "true" {
		health := h.registry.HealthCheckAll(r.Context())
		for i := range infos {
			if ok, probed := health[infos[i].Name]; probed {
				infos[i].Healthy = &ok
			}
		}
	}
	writeJSON(w, http.StatusOK, newList(infos))
}

func (h *CapabilityHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.registry.Enable)
}

func (h *CapabilityHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.registry.Disable)
}

func (h *CapabilityHandler) toggle(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	name := chi.URLParam(r, "name")
	if err := fn(name); err != nil {
		if errors.Is(err, domain.ErrCapabilityNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update capability")
		return
	}
	for _, info := range h.registry.Describe() {
		if info.Name == name {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeError(w, http.StatusNotFound, domain.ErrCapabilityNotFound.Error())
}
