// internal/handlers/server.go
package handlers

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ExilProductions/purrlobby/internal/hub"
	"github.com/ExilProductions/purrlobby/internal/lobby"
)

// Server bundles the engine and hub behind the HTTP/WS request surface.
type Server struct {
	Engine *lobby.Engine
	Hub    *hub.Hub
	Log    *logrus.Logger
}

// New builds the request surface around an engine/hub pair.
func New(engine *lobby.Engine, h *hub.Hub, log *logrus.Logger) *Server {
	return &Server{Engine: engine, Hub: h, Log: log}
}

// Routes wires every endpoint onto a ServeMux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.PingHandler)
	mux.HandleFunc("/session/new", s.CreateSessionHandler)

	mux.HandleFunc("/lobby/create", s.CreateLobbyHandler)
	mux.HandleFunc("/lobby/search", s.SearchLobbiesHandler)
	mux.HandleFunc("/lobby/join", s.JoinLobbyHandler)
	mux.HandleFunc("/lobby/joinByCode", s.JoinLobbyByCodeHandler)
	mux.HandleFunc("/lobby/leave", s.LeaveLobbyHandler)
	mux.HandleFunc("/lobby/get", s.GetLobbyHandler)
	mux.HandleFunc("/lobby/members", s.GetMembersHandler)
	mux.HandleFunc("/lobby/ready", s.SetReadyHandler)
	mux.HandleFunc("/lobby/readyAll", s.SetEveryoneReadyHandler)
	mux.HandleFunc("/lobby/data", s.LobbyDataHandler)
	mux.HandleFunc("/lobby/start", s.StartLobbyHandler)
	mux.HandleFunc("/lobby/ws/", s.SubscribeHandler)

	mux.HandleFunc("/stats/players", s.GlobalPlayersHandler)
	mux.HandleFunc("/stats/lobbies", s.GlobalLobbiesHandler)
	mux.HandleFunc("/stats/game", s.GameStatsHandler)
	return mux
}

// PingHandler is a trivial liveness probe.
func (s *Server) PingHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintln(w, "pong")
}
