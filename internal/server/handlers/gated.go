package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/capability"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/permissions"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
)

// TokenSource yields a usable provider access token for a user.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string, provider providers.Provider) (string, error)
}

// gate checks consent for the session user before anything else happens.
func gate(w http.ResponseWriter, r *http.Request, g permissions.Gate, t permissions.Type) (string, bool) {
	userID, err := sessionUser(r)
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	if err := permissions.Require(r.Context(), g, userID, t); err != nil {
		writeError(w, r, err)
		return "", false
	}
	return userID, true
}

// ReplyHandler drafts a reply with the AI composer.
func ReplyHandler(g permissions.Gate, composer capability.Composer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := gate(w, r, g, permissions.AIReplyComposer)
		if !ok {
			return
		}
		var req capability.ReplyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeError(w, r, apperr.InvalidRequest("message is required"))
			return
		}
		req.UserID = userID

		reply, err := composer.ComposeReply(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"reply": reply})
	}
}

// SummarizeHandler condenses inbox messages.
func SummarizeHandler(g permissions.Gate, summarizer capability.Summarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := gate(w, r, g, permissions.AISummarization)
		if !ok {
			return
		}
		var req capability.SummarizeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if len(req.Messages) == 0 {
			writeError(w, r, apperr.InvalidRequest("messages are required"))
			return
		}
		req.UserID = userID

		summary, err := summarizer.Summarize(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"summary": summary})
	}
}

type inboxSyncRequest struct {
	Platform string `json:"platform"`
}

type inboxSyncResponse struct {
	Platform providers.Provider `json:"platform"`
	Synced   int                `json:"synced"`
}

// InboxSyncHandler pulls new messages from a connected platform.
func InboxSyncHandler(g permissions.Gate, tokens TokenSource, syncer capability.InboxSyncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := gate(w, r, g, permissions.InboxReader)
		if !ok {
			return
		}
		var req inboxSyncRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Platform) == "" {
			writeError(w, r, apperr.InvalidRequest("platform is required"))
			return
		}
		p, err := providers.Parse(req.Platform)
		if err != nil {
			writeError(w, r, err)
			return
		}

		accessToken, err := tokens.AccessToken(r.Context(), userID, p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		n, err := syncer.SyncInbox(r.Context(), capability.SyncRequest{UserID: userID, Platform: p, AccessToken: accessToken})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, inboxSyncResponse{Platform: p, Synced: n})
	}
}
