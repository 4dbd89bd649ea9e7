package svc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/fardream/histview"
)

// HttpServerMux builds the admin surface: resolve and push entry points
// plus a stats listing. Requests and responses are plain JSON.
func (s *Svc) HttpServerMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /resolve", s.handleResolve)
	mux.HandleFunc("POST /push", s.handlePush)
	mux.HandleFunc("GET /views", s.handleViews)

	return mux, nil
}

type commitResponse struct {
	Commit string `json:"commit"`
}

func (s *Svc) handleResolve(w http.ResponseWriter, r *http.Request) {
	request := &ViewRequest{}
	if err := json.NewDecoder(r.Body).Decode(request); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h, err := s.ResolveView(r.Context(), request)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	writeJSON(w, &commitResponse{Commit: h.String()})
}

func (s *Svc) handlePush(w http.ResponseWriter, r *http.Request) {
	request := &PushRequest{}
	if err := json.NewDecoder(r.Body).Decode(request); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h, err := s.SubmitPush(r.Context(), request)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	writeJSON(w, &commitResponse{Commit: h.String()})
}

func (s *Svc) handleViews(w http.ResponseWriter, r *http.Request) {
	views, err := s.ListViews()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, views)
}

func statusForError(err error) int {
	var (
		spec        *histview.MalformedSpecError
		conflict    *histview.ConflictError
		consistency *histview.CacheConsistencyError
	)

	switch {
	case errors.As(err, &spec),
		errors.Is(err, ErrEmptyRepoName),
		errors.Is(err, ErrEmptyRefName),
		errors.Is(err, ErrEmptyFilter),
		errors.Is(err, ErrEmptyCommit):
		return http.StatusBadRequest
	case errors.As(err, &conflict),
		errors.As(err, &consistency),
		errors.Is(err, ErrRefCASFailed):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownRepo),
		errors.Is(err, plumbing.ErrReferenceNotFound),
		errors.Is(err, histview.ErrEmptyFilterResult):
		return http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	}

	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
