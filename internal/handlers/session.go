// internal/handlers/session.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/ExilProductions/purrlobby/internal/auth"
)

// CreateSessionHandler mints an ephemeral identity and its signed
// session token. Game clients that bring their own identity provider
// skip this endpoint and present externally issued tokens instead.
func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad session payload", http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = "Player"
	}

	userID := uuid.NewString()
	token, err := auth.CreateJWT(userID, req.DisplayName)
	if err != nil {
		s.Log.Errorf("failed to create session token: %v", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"token":       token,
		"userId":      userID,
		"displayName": req.DisplayName,
	})
}
