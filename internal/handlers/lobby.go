// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"net/http"
)

type lobbyRef struct {
	GameID  string `json:"gameId"`
	LobbyID string `json:"lobbyId"`
}

// CreateLobbyHandler registers a new lobby owned by the caller.
func (s *Server) CreateLobbyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		GameID     string            `json:"gameId"`
		MaxPlayers int               `json:"maxPlayers"`
		Properties map[string]string `json:"properties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad lobby request payload", http.StatusBadRequest)
		return
	}
	gameID, err := parseIdentifier(req.GameID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	view, err := s.Engine.Create(r.Context(), gameID, requestToken(r), req.MaxPlayers, req.Properties)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// JoinLobbyHandler admits the caller into an existing lobby.
func (s *Server) JoinLobbyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lobbyRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad join payload", http.StatusBadRequest)
		return
	}
	gameID, err := parseIdentifier(req.GameID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	lobbyID, err := parseIdentifier(req.LobbyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	view, err := s.Engine.Join(r.Context(), gameID, lobbyID, requestToken(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// JoinLobbyByCodeHandler resolves a human lobby code and joins it.
func (s *Server) JoinLobbyByCodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		GameID    string `json:"gameId"`
		LobbyCode string `json:"lobbyCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad join payload", http.StatusBadRequest)
		return
	}
	gameID, err := parseIdentifier(req.GameID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	view, err := s.Engine.JoinByCode(r.Context(), gameID, req.LobbyCode, requestToken(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// LeaveLobbyHandler removes the caller from a lobby.
func (s *Server) LeaveLobbyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lobbyRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad leave payload", http.StatusBadRequest)
		return
	}
	gameID, err := parseIdentifier(req.GameID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	lobbyID, err := parseIdentifier(req.LobbyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.Engine.Leave(r.Context(), gameID, lobbyID, requestToken(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"left": true})
}

// GetLobbyHandler projects a lobby for one of its members.
func (s *Server) GetLobbyHandler(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIdentifier(r.URL.Query().Get("gameId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	lobbyID, err := parseIdentifier(r.URL.Query().Get("lobbyId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	view, err := s.Engine.Get(gameID, lobbyID, requestToken(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetMembersHandler snapshots a lobby's member list.
func (s *Server) GetMembersHandler(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIdentifier(r.URL.Query().Get("gameId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	lobbyID, err := parseIdentifier(r.URL.Query().Get("lobbyId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	members := s.Engine.Members(gameID, lobbyID)
	// project away session tokens
	views := make([]map[string]interface{}, 0, len(members))
	for _, m := range members {
		views = append(views, map[string]interface{}{
			"userId":      m.UserID,
			"displayName": m.DisplayName,
			"isReady":     m.IsReady,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// SetReadyHandler toggles the caller's ready flag.
func (s *Server) SetReadyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		lobbyRef
		IsReady bool `json:"isReady"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad ready payload", http.StatusBadRequest)
		return
	}
	gameID, err := parseIdentifier(req.GameID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	lobbyID, err := parseIdentifier(req.LobbyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.Engine.SetReady(r.Context(), gameID, lobbyID, requestToken(r), req.IsReady); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// SetEveryoneReadyHandler marks all members ready. Owner-only.
func (s *Server) SetEveryoneReadyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lobbyRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	gameID, err := parseIdentifier(req.GameID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	lobbyID, err := parseIdentifier(req.LobbyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.Engine.SetEveryoneReady(r.Context(), gameID, lobbyID, requestToken(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// LobbyDataHandler reads (GET) or writes (POST) a lobby property.
func (s *Server) LobbyDataHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		gameID, err := parseIdentifier(r.URL.Query().Get("gameId"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		lobbyID, err := parseIdentifier(r.URL.Query().Get("lobbyId"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		key := r.URL.Query().Get("key")
		value, ok := s.Engine.GetData(gameID, lobbyID, key)
		if !ok {
			http.Error(w, "property not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})

	case http.MethodPost, http.MethodPut:
		var req struct {
			lobbyRef
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad data payload", http.StatusBadRequest)
			return
		}
		gameID, err := parseIdentifier(req.GameID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		lobbyID, err := parseIdentifier(req.LobbyID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if err := s.Engine.SetData(r.Context(), gameID, lobbyID, requestToken(r), req.Key, req.Value); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// StartLobbyHandler flips the started flag. Owner-only.
func (s *Server) StartLobbyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lobbyRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad start payload", http.StatusBadRequest)
		return
	}
	gameID, err := parseIdentifier(req.GameID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	lobbyID, err := parseIdentifier(req.LobbyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.Engine.Start(r.Context(), gameID, lobbyID, requestToken(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// SearchLobbiesHandler lists joinable lobbies matching property filters.
func (s *Server) SearchLobbiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		GameID   string            `json:"gameId"`
		MaxRooms int               `json:"maxRooms"`
		Filters  map[string]string `json:"filters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad search payload", http.StatusBadRequest)
		return
	}
	gameID, err := parseIdentifier(req.GameID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.Engine.Search(gameID, req.MaxRooms, req.Filters))
}
