// internal/handlers/handlers_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ExilProductions/purrlobby/internal/auth"
	"github.com/ExilProductions/purrlobby/internal/hub"
	"github.com/ExilProductions/purrlobby/internal/lobby"
)

const testGameID = "11111111-1111-1111-1111-111111111111"

func newTestServer() *Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	validator := auth.JWTValidator{}
	engine := lobby.NewEngine(validator, logger)
	h := hub.New(validator, engine, nil, logger)
	engine.SetSink(h)
	return New(engine, h, logger)
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Cookie", "auth_token="+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// TestLobbyFlow walks create -> join -> ready -> data -> start -> leave
// through the HTTP surface.
func TestLobbyFlow(t *testing.T) {
	auth.Init()
	s := newTestServer()
	mux := s.Routes()

	ownerToken, _ := auth.CreateJWT(uuid.NewString(), "Alice")
	guestToken, _ := auth.CreateJWT(uuid.NewString(), "Bob")

	// create
	body := fmt.Sprintf(`{"gameId":%q,"maxPlayers":4,"properties":{"Name":"Friday"}}`, testGameID)
	w := doJSON(t, mux, "POST", "/lobby/create", ownerToken, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", w.Code, w.Body.String())
	}
	var created lobby.View
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode lobby view: %v", err)
	}
	if created.LobbyID == "" || !created.IsOwner || created.Name != "Friday" {
		t.Fatalf("unexpected create view: %+v", created)
	}

	ref := fmt.Sprintf(`{"gameId":%q,"lobbyId":%q}`, testGameID, created.LobbyID)

	// join
	w = doJSON(t, mux, "POST", "/lobby/join", guestToken, ref)
	if w.Code != http.StatusOK {
		t.Fatalf("join: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var joined lobby.View
	if err := json.Unmarshal(w.Body.Bytes(), &joined); err != nil {
		t.Fatalf("failed to decode join view: %v", err)
	}
	if len(joined.Members) != 2 || joined.IsOwner {
		t.Fatalf("unexpected join view: %+v", joined)
	}

	// get as member
	getPath := fmt.Sprintf("/lobby/get?gameId=%s&lobbyId=%s", testGameID, created.LobbyID)
	w = doJSON(t, mux, "GET", getPath, guestToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	// get as stranger
	strangerToken, _ := auth.CreateJWT(uuid.NewString(), "Mallory")
	w = doJSON(t, mux, "GET", getPath, strangerToken, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get by non-member: expected 404, got %d", w.Code)
	}

	// ready
	w = doJSON(t, mux, "POST", "/lobby/ready", guestToken,
		fmt.Sprintf(`{"gameId":%q,"lobbyId":%q,"isReady":true}`, testGameID, created.LobbyID))
	if w.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// data write is owner-gated
	dataBody := fmt.Sprintf(`{"gameId":%q,"lobbyId":%q,"key":"Map","value":"nuke"}`, testGameID, created.LobbyID)
	w = doJSON(t, mux, "POST", "/lobby/data", guestToken, dataBody)
	if w.Code != http.StatusForbidden {
		t.Fatalf("data by non-owner: expected 403, got %d", w.Code)
	}
	w = doJSON(t, mux, "POST", "/lobby/data", ownerToken, dataBody)
	if w.Code != http.StatusOK {
		t.Fatalf("data by owner: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// data read needs no auth
	w = doJSON(t, mux, "GET",
		fmt.Sprintf("/lobby/data?gameId=%s&lobbyId=%s&key=map", testGameID, created.LobbyID), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("data read: expected 200, got %d", w.Code)
	}
	var kv map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &kv); err != nil || kv["value"] != "nuke" {
		t.Fatalf("unexpected data read response: %s", w.Body.String())
	}

	// search finds the open lobby
	w = doJSON(t, mux, "POST", "/lobby/search", "",
		fmt.Sprintf(`{"gameId":%q,"maxRooms":10,"filters":{"map":"NUKE"}}`, testGameID))
	if w.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", w.Code)
	}
	var found []lobby.View
	if err := json.Unmarshal(w.Body.Bytes(), &found); err != nil || len(found) != 1 {
		t.Fatalf("expected one search hit, got %s", w.Body.String())
	}

	// start is owner-gated
	w = doJSON(t, mux, "POST", "/lobby/start", guestToken, ref)
	if w.Code != http.StatusForbidden {
		t.Fatalf("start by non-owner: expected 403, got %d", w.Code)
	}
	w = doJSON(t, mux, "POST", "/lobby/start", ownerToken, ref)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// started lobbies reject joins
	w = doJSON(t, mux, "POST", "/lobby/join", strangerToken, ref)
	if w.Code != http.StatusNotFound {
		t.Fatalf("join after start: expected 404, got %d", w.Code)
	}

	// leave
	w = doJSON(t, mux, "POST", "/lobby/leave", guestToken, ref)
	if w.Code != http.StatusOK {
		t.Fatalf("leave: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestJoinByCodeEndpoint(t *testing.T) {
	auth.Init()
	s := newTestServer()
	mux := s.Routes()

	ownerToken, _ := auth.CreateJWT(uuid.NewString(), "Alice")
	guestToken, _ := auth.CreateJWT(uuid.NewString(), "Bob")

	w := doJSON(t, mux, "POST", "/lobby/create", ownerToken,
		fmt.Sprintf(`{"gameId":%q,"maxPlayers":4}`, testGameID))
	if w.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", w.Code)
	}
	var created lobby.View
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}

	w = doJSON(t, mux, "POST", "/lobby/joinByCode", guestToken,
		fmt.Sprintf(`{"gameId":%q,"lobbyCode":%q}`, testGameID, created.LobbyCode))
	if w.Code != http.StatusOK {
		t.Fatalf("joinByCode: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, mux, "POST", "/lobby/joinByCode", guestToken,
		fmt.Sprintf(`{"gameId":%q,"lobbyCode":"ZZZZZZ"}`, testGameID))
	if w.Code != http.StatusNotFound {
		t.Fatalf("joinByCode miss: expected 404, got %d", w.Code)
	}
}

func TestAuthErrorMapping(t *testing.T) {
	auth.Init()
	s := newTestServer()
	mux := s.Routes()

	body := fmt.Sprintf(`{"gameId":%q,"maxPlayers":4}`, testGameID)

	// missing token -> invalid input
	w := doJSON(t, mux, "POST", "/lobby/create", "", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing token: expected 400, got %d", w.Code)
	}

	// garbage token -> unauthorized
	w = doJSON(t, mux, "POST", "/lobby/create", "garbage", body)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", w.Code)
	}

	// malformed gameId -> invalid
	token, _ := auth.CreateJWT(uuid.NewString(), "Alice")
	w = doJSON(t, mux, "POST", "/lobby/create", token, `{"gameId":"nope","maxPlayers":4}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad gameId: expected 400, got %d", w.Code)
	}
}

func TestSessionEndpointMintsUsableToken(t *testing.T) {
	auth.Init()
	s := newTestServer()
	mux := s.Routes()

	w := doJSON(t, mux, "POST", "/session/new", "", `{"displayName":"Dana"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("session: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var session map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if session["token"] == "" || session["userId"] == "" {
		t.Fatalf("incomplete session response: %v", session)
	}

	w = doJSON(t, mux, "POST", "/lobby/create", session["token"],
		fmt.Sprintf(`{"gameId":%q,"maxPlayers":4}`, testGameID))
	if w.Code != http.StatusOK {
		t.Fatalf("create with minted token: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStatsEndpoints(t *testing.T) {
	auth.Init()
	s := newTestServer()
	mux := s.Routes()

	ownerToken, _ := auth.CreateJWT(uuid.NewString(), "Alice")
	w := doJSON(t, mux, "POST", "/lobby/create", ownerToken,
		fmt.Sprintf(`{"gameId":%q,"maxPlayers":4}`, testGameID))
	if w.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", w.Code)
	}

	w = doJSON(t, mux, "GET", "/stats/players", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats/players: expected 200, got %d", w.Code)
	}
	var players map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &players); err != nil || players["players"] != 1 {
		t.Fatalf("unexpected players stats: %s", w.Body.String())
	}

	w = doJSON(t, mux, "GET", "/stats/lobbies", "", "")
	var lobbies map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &lobbies); err != nil || lobbies["lobbies"] != 1 {
		t.Fatalf("unexpected lobbies stats: %s", w.Body.String())
	}

	w = doJSON(t, mux, "GET", "/stats/game?gameId="+testGameID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats/game: expected 200, got %d", w.Code)
	}
}
