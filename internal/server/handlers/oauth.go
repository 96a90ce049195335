package handlers

import (
	"net/http"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/connect"
)

// AuthorizeHandler returns the provider consent URL for the session user.
func AuthorizeHandler(svc *connect.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := sessionUser(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.Authorize(r.Context(), userID, r.URL.Query().Get("platform"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, res)
	}
}

// CallbackHandler completes the provider redirect. Success is the only path
// that redirects; every failure is a JSON error.
func CallbackHandler(svc *connect.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res, err := svc.Connect(r.Context(), connect.CallbackParams{
			Code:             q.Get("code"),
			Platform:         q.Get("platform"),
			State:            q.Get("state"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
	}
}

type disconnectRequest struct {
	Platform string `json:"platform"`
}

type disconnectResponse struct {
	Success  bool   `json:"success"`
	Platform string `json:"platform"`
}

// DisconnectHandler removes the session user's grant for a platform.
func DisconnectHandler(svc *connect.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := sessionUser(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req disconnectRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		p, err := svc.Disconnect(r.Context(), userID, req.Platform)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, disconnectResponse{Success: true, Platform: string(p)})
	}
}

// ConnectionsHandler lists the session user's connected platforms.
func ConnectionsHandler(svc *connect.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := sessionUser(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.Connections(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, res)
	}
}
