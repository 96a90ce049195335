package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid callback", err: InvalidCallback("missing code"), want: http.StatusBadRequest},
		{name: "invalid request", err: InvalidRequest("platform is required"), want: http.StatusBadRequest},
		{name: "unsupported provider", err: UnsupportedProvider("myspace"), want: http.StatusBadRequest},
		{name: "token exchange", err: TokenExchange("rejected", "{}", nil), want: http.StatusBadRequest},
		{name: "unauthorized", err: Unauthorized("no session"), want: http.StatusUnauthorized},
		{name: "permission denied", err: PermissionDenied("Inbox reader"), want: http.StatusForbidden},
		{name: "not connected", err: NotConnected("spotify"), want: http.StatusConflict},
		{name: "storage", err: Storage("upsert grant", errors.New("disk full")), want: http.StatusInternalServerError},
		{name: "timeout", err: Timeout("token exchange", context.DeadlineExceeded), want: http.StatusGatewayTimeout},
		{name: "not configured", err: NotConfigured("AI reply"), want: http.StatusNotImplemented},
		{name: "foreign", err: errors.New("boom"), want: http.StatusInternalServerError},
		{name: "wrapped", err: fmt.Errorf("callback: %w", PermissionDenied("AI summarization")), want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestStorageDeadlineBecomesTimeout(t *testing.T) {
	err := Storage("get grant", fmt.Errorf("query: %w", context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, err.Kind)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrStorage))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", UnsupportedProvider("myspace"))
	assert.True(t, errors.Is(err, ErrUnsupportedProvider))
	assert.False(t, errors.Is(err, ErrInvalidRequest))
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, UnsupportedProvider("myspace"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Unsupported platform: myspace", body.Error)
	assert.Equal(t, KindUnsupportedProvider, body.Code)
}

func TestWriteJSON_HidesForeignErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, errors.New("dsn=postgres://user:secret@db"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}
