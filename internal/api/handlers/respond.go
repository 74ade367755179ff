// Package handlers serves the agent's status and control endpoints.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/agentd/internal/domain"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Waker nudges the loop to start its next cycle early.
type Waker interface {
	Wake()
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps persistence failures to 500 and everything else,
// which the services only return for bad input, to 400.
func writeServiceError(w http.ResponseWriter, err error, op string) {
	var repoErr *domain.RepositoryError
	if errors.As(err, &repoErr) {
		writeError(w, http.StatusInternalServerError, "failed to "+op)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}

// queryInt parses a non-negative integer query parameter, falling back to
// def when absent. Values above ceiling are clamped.
func queryInt(r *http.Request, name string, def, ceiling int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, nil
}
