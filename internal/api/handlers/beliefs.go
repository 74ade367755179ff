package handlers

import (
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/agentd/internal/service"
)

type BeliefHandler struct {
	svc   *service.BeliefService
	waker Waker
}

func NewBeliefHandler(svc *service.BeliefService, waker Waker) *BeliefHandler {
	return &BeliefHandler{svc: svc, waker: waker}
}

type tellRequest struct {
	Subject    string   `json:"subject"`
	Predicate  string   `json:"predicate"`
	Object     string   `json:"object"`
	Confidence *float64 `json:"confidence"`
}

// List returns beliefs most confident first. With both subject and predicate
// set it returns the single matching belief or 404.
func (h *BeliefHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subject, predicate := q.Get("subject"), q.Get("predicate")
	if subject != "" && predicate != "" {
		b, ok := h.svc.Query(subject, predicate)
		if !ok {
			writeError(w, http.StatusNotFound, "belief not found")
			return
		}
		writeJSON(w, http.StatusOK, b)
		return
	}

	minConfidence := 0.0
	if s := q.Get("min_confidence"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 || v > 1 {
			writeError(w, http.StatusBadRequest, "min_confidence must be between 0 and 1")
			return
		}
		minConfidence = v
	}
	limit, err := queryInt(r, "limit", 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	beliefs := h.svc.QueryAll(minConfidence)
	if subject != "" {
		filtered := beliefs[:0]
		for _, b := range beliefs {
			if b.Subject == subject {
				filtered = append(filtered, b)
			}
		}
		beliefs = filtered
	}
	if limit > 0 && len(beliefs) > limit {
		beliefs = beliefs[:limit]
	}
	writeJSON(w, http.StatusOK, newList(beliefs))
}

// Tell records a human statement. It overrides whatever the agent believed.
func (h *BeliefHandler) Tell(w http.ResponseWriter, r *http.Request) {
	var req tellRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Subject == "" || req.Predicate == "" {
		writeError(w, http.StatusBadRequest, "subject and predicate are required")
		return
	}
	confidence := 1.0
	if req.Confidence != nil {
		if *req.Confidence <= 0 || *req.Confidence > 1 {
			writeError(w, http.StatusBadRequest, "confidence must be in (0, 1]")
			return
		}
		confidence = *req.Confidence
	}

	b, err := h.svc.Tell(r.Context(), req.Subject, req.Predicate, req.Object, confidence)
	if err != nil {
		writeServiceError(w, err, "record belief")
		return
	}
	h.waker.Wake()
	writeJSON(w, http.StatusCreated, b)
}
