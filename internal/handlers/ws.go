// internal/handlers/ws.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ExilProductions/purrlobby/internal/hub"
)

// SubscribeHandler upgrades the request to a websocket and hands the
// connection to the hub. Path shape: /lobby/ws/{lobbyId}?gameId=...
// The token rides in the auth_token cookie or a bearer header.
func (s *Server) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/lobby/ws/"), "/")
	if len(pathParts) < 1 || pathParts[0] == "" {
		http.Error(w, "missing lobby_id", http.StatusBadRequest)
		return
	}
	lobbyID, err := uuid.Parse(pathParts[0])
	if err != nil {
		http.Error(w, "invalid lobby_id", http.StatusBadRequest)
		return
	}
	gameID, err := uuid.Parse(r.URL.Query().Get("gameId"))
	if err != nil {
		http.Error(w, "invalid gameId", http.StatusBadRequest)
		return
	}
	token := requestToken(r)

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"lobby"},
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		s.Log.Warnf("websocket accept error: %v", err)
		return
	}

	if c.Subprotocol() != "lobby" {
		c.Close(hub.BadSubprotocolError, "client must speak the lobby subprotocol")
		return
	}

	// HandleConnection authenticates, runs the receive loop, and closes
	// the transport on every exit path.
	transport := hub.NewWSTransport(c)
	if err := s.Hub.HandleConnection(r.Context(), gameID, lobbyID, token, transport); err != nil {
		s.Log.Warnf("subscriber rejected for lobby %s: %v", lobbyID, err)
	}
}
