// Package handlers implements the HTTP endpoints. Each constructor returns a
// closure over its collaborators.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/logging"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/server/middleware"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/version"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

// writeError logs err with its diagnostic detail and writes the JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())
	attrs := []any{"path", r.URL.Path, "kind", apperr.KindOf(err), "error", err}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Detail != "" {
		attrs = append(attrs, "detail", appErr.Detail)
	}
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		log.Error("request failed", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}
	apperr.WriteJSON(w, err)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidRequest("request body is required")
		}
		return apperr.InvalidRequest("invalid JSON body: %v", err)
	}
	return nil
}

func sessionUser(r *http.Request) (string, error) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return "", apperr.Unauthorized("Missing session")
	}
	return userID, nil
}

type healthResponse struct {
	Status string       `json:"status"`
	Build  version.Info `json:"build"`
}

// HealthHandler reports liveness and the running build.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok", Build: version.Get()})
	}
}
