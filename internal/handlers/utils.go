// internal/handlers/utils.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ExilProductions/purrlobby/internal/lobby"
)

// maxIdentifierLen bounds raw identifier strings before parsing.
const maxIdentifierLen = 128

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// requestToken pulls the session token from the auth_token cookie or an
// Authorization bearer header.
func requestToken(r *http.Request) string {
	if cookie := r.Header.Get("Cookie"); strings.Contains(cookie, "auth_token=") {
		return extractCookieToken(cookie, "auth_token")
	}
	if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimPrefix(bearer, "Bearer ")
	}
	return ""
}

// parseIdentifier validates a raw identifier string and parses it as a
// 128-bit id.
func parseIdentifier(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxIdentifierLen {
		return uuid.Nil, lobby.ErrInvalid
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, lobby.ErrInvalid
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEngineError maps engine error kinds onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lobby.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, lobby.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, lobby.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, lobby.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lobby.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
