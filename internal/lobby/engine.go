// internal/lobby/engine.go
package lobby

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ExilProductions/purrlobby/internal/auth"
	"github.com/ExilProductions/purrlobby/internal/events"
)

// shardCount is a power of two so a byte of the lobby id picks a shard.
const shardCount = 32

// Search result bounds.
const (
	MinSearchRooms = 1
	MaxSearchRooms = 100
)

// Sink receives the events an engine operation produced after its lock
// was released, plus the teardown signal when a lobby empties. The hub
// implements it; tests inject a recorder.
type Sink interface {
	Publish(gameID, lobbyID uuid.UUID, ev events.Event)
	CloseLobby(gameID, lobbyID uuid.UUID)
}

type registryShard struct {
	mu      sync.RWMutex
	lobbies map[uuid.UUID]*Lobby
}

// userKey scopes the single-lobby-per-token invariant to a game.
type userKey struct {
	gameID uuid.UUID
	token  string
}

// Engine is the authoritative in-memory lobby registry. Lookups go
// through 32 shards keyed by lobby id; each lobby carries its own
// mutex. The user and code indexes live under indexMu. Lock order is
// lobby.mu -> indexMu -> shard.mu; no lock is ever held across a
// validator call or an event emission.
type Engine struct {
	validator auth.Validator
	log       *logrus.Logger

	sinkMu sync.RWMutex
	sink   Sink

	shards [shardCount]registryShard

	indexMu   sync.Mutex
	userLobby map[userKey]uuid.UUID
	codes     map[string]uuid.UUID
}

// NewEngine builds an empty engine. Wire the event sink with SetSink
// before serving traffic.
func NewEngine(validator auth.Validator, log *logrus.Logger) *Engine {
	e := &Engine{
		validator: validator,
		log:       log,
		userLobby: make(map[userKey]uuid.UUID),
		codes:     make(map[string]uuid.UUID),
	}
	for i := range e.shards {
		e.shards[i].lobbies = make(map[uuid.UUID]*Lobby)
	}
	return e
}

// SetSink installs the event sink. Typically called once at startup,
// after the hub (which needs the engine) has been constructed.
func (e *Engine) SetSink(s Sink) {
	e.sinkMu.Lock()
	e.sink = s
	e.sinkMu.Unlock()
}

func (e *Engine) publish(gameID, lobbyID uuid.UUID, ev events.Event) {
	e.sinkMu.RLock()
	s := e.sink
	e.sinkMu.RUnlock()
	if s != nil {
		s.Publish(gameID, lobbyID, ev)
	}
}

func (e *Engine) closeLobby(gameID, lobbyID uuid.UUID) {
	e.sinkMu.RLock()
	s := e.sink
	e.sinkMu.RUnlock()
	if s != nil {
		s.CloseLobby(gameID, lobbyID)
	}
}

func (e *Engine) shardFor(lobbyID uuid.UUID) *registryShard {
	return &e.shards[int(lobbyID[0])%shardCount]
}

// lookup fetches a lobby and checks its tenant scope. A hit may still
// be concurrently removed; callers re-check l.removed under l.mu.
func (e *Engine) lookup(gameID, lobbyID uuid.UUID) (*Lobby, bool) {
	sh := e.shardFor(lobbyID)
	sh.mu.RLock()
	l, ok := sh.lobbies[lobbyID]
	sh.mu.RUnlock()
	if !ok || l.gameID != gameID {
		return nil, false
	}
	return l, true
}

// authenticate validates scope inputs and resolves the caller's token.
func (e *Engine) authenticate(ctx context.Context, gameID uuid.UUID, token string) (auth.Identity, error) {
	if gameID == uuid.Nil {
		return auth.Identity{}, fmt.Errorf("%w: missing gameId", ErrInvalid)
	}
	if token == "" {
		return auth.Identity{}, fmt.Errorf("%w: missing session token", ErrInvalid)
	}
	ident, err := e.validator.Validate(ctx, token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return ident, nil
}

// Create registers a new lobby with the caller as sole member and
// owner. maxPlayers is clamped to [2, 64]; up to 32 sanitized
// properties are applied, with the Name key mirrored to the lobby name.
func (e *Engine) Create(ctx context.Context, gameID uuid.UUID, token string, maxPlayers int, props map[string]string) (*View, error) {
	ident, err := e.authenticate(ctx, gameID, token)
	if err != nil {
		return nil, err
	}

	l := &Lobby{
		id:         uuid.New(),
		gameID:     gameID,
		ownerID:    ident.UserID,
		maxPlayers: clampPlayers(maxPlayers),
		createdAt:  time.Now().UTC(),
		props:      make(map[string]property),
		members: []*Member{{
			UserID:      ident.UserID,
			DisplayName: sanitizeDisplayName(ident.DisplayName),
			Token:       token,
		}},
	}

	// Sorted iteration keeps which keys survive the cap deterministic.
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sk := sanitizeKey(k)
		if sk == "" {
			continue
		}
		if !l.setProperty(sk, sanitizeValue(props[k])) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The code uniqueness check, the code index write and the registry
	// insert all happen under indexMu so the pair is linearizable.
	e.indexMu.Lock()
	code := ""
	for i := 0; i < codeRetries; i++ {
		candidate := newLobbyCode()
		if _, taken := e.codes[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		code = fallbackCode()
	}
	l.code = code
	e.codes[code] = l.id
	e.userLobby[userKey{gameID, token}] = l.id

	sh := e.shardFor(l.id)
	sh.mu.Lock()
	sh.lobbies[l.id] = l
	sh.mu.Unlock()
	e.indexMu.Unlock()

	l.mu.Lock()
	view := l.viewFor(token)
	ownerName := l.members[0].DisplayName
	l.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"lobby": l.id,
		"game":  gameID,
		"code":  code,
		"owner": ident.UserID,
	}).Info("lobby created")

	e.publish(gameID, l.id, events.LobbyCreated{
		LobbyID:          l.id.String(),
		OwnerUserID:      ident.UserID,
		OwnerDisplayName: ownerName,
		MaxPlayers:       view.MaxPlayers,
	})
	return &view, nil
}

// Join admits the caller into a lobby. A second join by a current
// member returns the current view idempotently; capacity, lifecycle and
// cross-lobby conflicts all surface as ErrNotFound.
func (e *Engine) Join(ctx context.Context, gameID, lobbyID uuid.UUID, token string) (*View, error) {
	ident, err := e.authenticate(ctx, gameID, token)
	if err != nil {
		return nil, err
	}
	l, ok := e.lookup(gameID, lobbyID)
	if !ok {
		return nil, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.removed || l.started {
		l.mu.Unlock()
		return nil, ErrNotFound
	}
	if l.memberByToken(token) != nil {
		view := l.viewFor(token)
		l.mu.Unlock()
		return &view, nil
	}
	if l.memberByUserID(ident.UserID) != nil {
		// same user under a different session token
		l.mu.Unlock()
		return nil, ErrNotFound
	}
	if len(l.members) >= l.maxPlayers {
		l.mu.Unlock()
		return nil, ErrNotFound
	}

	key := userKey{gameID, token}
	e.indexMu.Lock()
	if cur, indexed := e.userLobby[key]; indexed && cur != lobbyID {
		e.indexMu.Unlock()
		l.mu.Unlock()
		return nil, ErrNotFound
	}
	e.userLobby[key] = lobbyID
	e.indexMu.Unlock()

	m := &Member{
		UserID:      ident.UserID,
		DisplayName: sanitizeDisplayName(ident.DisplayName),
		Token:       token,
	}
	l.members = append(l.members, m)
	view := l.viewFor(token)
	l.mu.Unlock()

	e.publish(gameID, lobbyID, events.MemberJoined{
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
	})
	return &view, nil
}

// JoinByCode resolves a human lobby code within the game scope and
// delegates to Join.
func (e *Engine) JoinByCode(ctx context.Context, gameID uuid.UUID, code, token string) (*View, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: missing lobby code", ErrInvalid)
	}
	e.indexMu.Lock()
	lobbyID, ok := e.codes[code]
	e.indexMu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e.Join(ctx, gameID, lobbyID, token)
}

// Leave removes the caller from a lobby. The departing owner hands off
// to the longest-tenured remaining member; the last departure tears the
// lobby down and emits lobby_empty before the hub drops its
// bookkeeping.
func (e *Engine) Leave(ctx context.Context, gameID, lobbyID uuid.UUID, token string) error {
	if _, err := e.authenticate(ctx, gameID, token); err != nil {
		return err
	}
	l, ok := e.lookup(gameID, lobbyID)
	if !ok {
		return ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if l.removed {
		l.mu.Unlock()
		return ErrNotFound
	}
	idx := -1
	for i, m := range l.members {
		if m.Token == token {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return ErrNotFound
	}
	departed := l.members[idx]
	l.members = append(l.members[:idx], l.members[idx+1:]...)

	e.indexMu.Lock()
	delete(e.userLobby, userKey{gameID, token})
	e.indexMu.Unlock()

	empty := len(l.members) == 0
	var left events.MemberLeft
	if empty {
		l.removed = true
		e.indexMu.Lock()
		delete(e.codes, l.code)
		e.indexMu.Unlock()
		sh := e.shardFor(lobbyID)
		sh.mu.Lock()
		delete(sh.lobbies, lobbyID)
		sh.mu.Unlock()
	} else {
		left = events.MemberLeft{UserID: departed.UserID}
		if l.ownerID == departed.UserID {
			l.ownerID = l.members[0].UserID
			left.NewOwnerUserID = l.ownerID
		}
	}
	l.mu.Unlock()

	if empty {
		e.log.WithFields(logrus.Fields{"lobby": lobbyID, "game": gameID}).Info("last member left, removing lobby")
		e.publish(gameID, lobbyID, events.LobbyEmpty{})
		e.closeLobby(gameID, lobbyID)
	} else {
		e.publish(gameID, lobbyID, left)
	}
	return nil
}

// LeaveByToken resolves the caller's current lobby through the user
// index and delegates to Leave. The hub uses this to evict members
// whose transport stopped answering heartbeats.
func (e *Engine) LeaveByToken(ctx context.Context, gameID uuid.UUID, token string) error {
	e.indexMu.Lock()
	lobbyID, ok := e.userLobby[userKey{gameID, token}]
	e.indexMu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return e.Leave(ctx, gameID, lobbyID, token)
}

// SetReady updates the caller's ready flag. Rejected once the lobby has
// started.
func (e *Engine) SetReady(ctx context.Context, gameID, lobbyID uuid.UUID, token string, isReady bool) error {
	if _, err := e.authenticate(ctx, gameID, token); err != nil {
		return err
	}
	l, ok := e.lookup(gameID, lobbyID)
	if !ok {
		return ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if l.removed || l.started {
		l.mu.Unlock()
		return ErrNotFound
	}
	m := l.memberByToken(token)
	if m == nil {
		l.mu.Unlock()
		return ErrNotFound
	}
	m.IsReady = isReady
	userID := m.UserID
	l.mu.Unlock()

	e.publish(gameID, lobbyID, events.MemberReady{UserID: userID, IsReady: isReady})
	return nil
}

// SetEveryoneReady marks every member ready. Owner-only; ownership is
// re-checked inside the lobby lock since the owner may have been
// demoted between validation and mutation.
func (e *Engine) SetEveryoneReady(ctx context.Context, gameID, lobbyID uuid.UUID, token string) error {
	ident, err := e.authenticate(ctx, gameID, token)
	if err != nil {
		return err
	}
	l, ok := e.lookup(gameID, lobbyID)
	if !ok {
		return ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if l.removed || l.started {
		l.mu.Unlock()
		return ErrNotFound
	}
	if l.ownerID != ident.UserID {
		l.mu.Unlock()
		return ErrForbidden
	}
	affected := make([]string, 0, len(l.members))
	for _, m := range l.members {
		m.IsReady = true
		affected = append(affected, m.UserID)
	}
	l.mu.Unlock()

	e.publish(gameID, lobbyID, events.EveryoneReady{AffectedMembers: affected})
	return nil
}

// SetData writes an owner-gated lobby property. Keys are
// case-insensitive and capped at 32 distinct entries; the Name key is
// mirrored to the lobby's display name.
func (e *Engine) SetData(ctx context.Context, gameID, lobbyID uuid.UUID, token, key, value string) error {
	ident, err := e.authenticate(ctx, gameID, token)
	if err != nil {
		return err
	}
	key = sanitizeKey(key)
	if key == "" {
		return fmt.Errorf("%w: missing property key", ErrInvalid)
	}
	value = sanitizeValue(value)

	l, ok := e.lookup(gameID, lobbyID)
	if !ok {
		return ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if l.removed {
		l.mu.Unlock()
		return ErrNotFound
	}
	if l.ownerID != ident.UserID {
		l.mu.Unlock()
		return ErrForbidden
	}
	if !l.setProperty(key, value) {
		l.mu.Unlock()
		return fmt.Errorf("%w: property cap reached", ErrConflict)
	}
	l.mu.Unlock()

	e.publish(gameID, lobbyID, events.LobbyData{Key: key, Value: value})
	return nil
}

// GetData reads a lobby property. No authentication required.
func (e *Engine) GetData(gameID, lobbyID uuid.UUID, key string) (string, bool) {
	l, ok := e.lookup(gameID, lobbyID)
	if !ok {
		return "", false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.props[strings.ToLower(sanitizeKey(key))]
	if !ok {
		return "", false
	}
	return p.value, true
}

// Members returns a point-in-time snapshot of a lobby's members,
// including their session tokens; the hub needs them to drive
// evictions. The request layer strips the tokens before responding.
func (e *Engine) Members(gameID, lobbyID uuid.UUID) []Member {
	l, ok := e.lookup(gameID, lobbyID)
	if !ok {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Member, 0, len(l.members))
	for _, m := range l.members {
		out = append(out, *m)
	}
	return out
}

// Get projects a lobby for one of its members, identified by session
// token. Non-members get ErrNotFound.
func (e *Engine) Get(gameID, lobbyID uuid.UUID, token string) (*View, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing session token", ErrInvalid)
	}
	l, ok := e.lookup(gameID, lobbyID)
	if !ok {
		return nil, ErrNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed || l.memberByToken(token) == nil {
		return nil, ErrNotFound
	}
	view := l.viewFor(token)
	return &view, nil
}

// Start flips the started flag. Owner-only, once.
func (e *Engine) Start(ctx context.Context, gameID, lobbyID uuid.UUID, token string) error {
	ident, err := e.authenticate(ctx, gameID, token)
	if err != nil {
		return err
	}
	l, ok := e.lookup(gameID, lobbyID)
	if !ok {
		return ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if l.removed {
		l.mu.Unlock()
		return ErrNotFound
	}
	if l.ownerID != ident.UserID {
		l.mu.Unlock()
		return ErrForbidden
	}
	if l.started {
		l.mu.Unlock()
		return fmt.Errorf("%w: lobby already started", ErrConflict)
	}
	l.started = true
	l.mu.Unlock()

	e.log.WithFields(logrus.Fields{"lobby": lobbyID, "game": gameID}).Info("lobby started")
	e.publish(gameID, lobbyID, events.LobbyStarted{})
	return nil
}

// Search lists joinable lobbies in a game: not started, below capacity,
// matching every filter key with a case-insensitively equal property
// value. Newest first, capped at maxRooms in [1, 100].
func (e *Engine) Search(gameID uuid.UUID, maxRooms int, filters map[string]string) []View {
	if maxRooms < MinSearchRooms {
		maxRooms = MinSearchRooms
	}
	if maxRooms > MaxSearchRooms {
		maxRooms = MaxSearchRooms
	}

	var results []View
	e.forEachLobby(func(l *Lobby) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.removed || l.gameID != gameID || l.started || len(l.members) >= l.maxPlayers {
			return
		}
		for k, v := range filters {
			p, ok := l.props[strings.ToLower(sanitizeKey(k))]
			if !ok || !strings.EqualFold(p.value, v) {
				return
			}
		}
		results = append(results, l.viewFor(""))
	})

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAtUtc.After(results[j].CreatedAtUtc)
	})
	if len(results) > maxRooms {
		results = results[:maxRooms]
	}
	return results
}

// forEachLobby visits every registered lobby. The shard lock is only
// held while snapshotting pointers, never while the callback runs.
func (e *Engine) forEachLobby(fn func(*Lobby)) {
	for i := range e.shards {
		sh := &e.shards[i]
		sh.mu.RLock()
		snapshot := make([]*Lobby, 0, len(sh.lobbies))
		for _, l := range sh.lobbies {
			snapshot = append(snapshot, l)
		}
		sh.mu.RUnlock()
		for _, l := range snapshot {
			fn(l)
		}
	}
}

// GlobalPlayerCount sums member counts across all lobbies.
func (e *Engine) GlobalPlayerCount() int {
	total := 0
	e.forEachLobby(func(l *Lobby) {
		l.mu.Lock()
		if !l.removed {
			total += len(l.members)
		}
		l.mu.Unlock()
	})
	return total
}

// GlobalLobbyCount reports the registry cardinality.
func (e *Engine) GlobalLobbyCount() int {
	total := 0
	for i := range e.shards {
		sh := &e.shards[i]
		sh.mu.RLock()
		total += len(sh.lobbies)
		sh.mu.RUnlock()
	}
	return total
}

// LobbyCountByGame counts lobbies in one game scope.
func (e *Engine) LobbyCountByGame(gameID uuid.UUID) int {
	total := 0
	e.forEachLobby(func(l *Lobby) {
		l.mu.Lock()
		if !l.removed && l.gameID == gameID {
			total++
		}
		l.mu.Unlock()
	})
	return total
}

// ActivePlayersByGame snapshots the members of a game's lobbies,
// de-duplicated by user id.
func (e *Engine) ActivePlayersByGame(gameID uuid.UUID) []MemberView {
	seen := make(map[string]struct{})
	var players []MemberView
	e.forEachLobby(func(l *Lobby) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.removed || l.gameID != gameID {
			return
		}
		for _, m := range l.members {
			if _, dup := seen[m.UserID]; dup {
				continue
			}
			seen[m.UserID] = struct{}{}
			players = append(players, MemberView{
				UserID:      m.UserID,
				DisplayName: m.DisplayName,
				IsReady:     m.IsReady,
			})
		}
	})
	return players
}
