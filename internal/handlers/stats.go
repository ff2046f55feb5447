// internal/handlers/stats.go
package handlers

import (
	"net/http"
)

// GlobalPlayersHandler reports the total member count across all lobbies.
func (s *Server) GlobalPlayersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"players": s.Engine.GlobalPlayerCount()})
}

// GlobalLobbiesHandler reports the registry cardinality.
func (s *Server) GlobalLobbiesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"lobbies": s.Engine.GlobalLobbyCount()})
}

// GameStatsHandler reports per-game lobby count and the de-duplicated
// active player snapshot.
func (s *Server) GameStatsHandler(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIdentifier(r.URL.Query().Get("gameId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lobbies": s.Engine.LobbyCountByGame(gameID),
		"players": s.Engine.ActivePlayersByGame(gameID),
	})
}
