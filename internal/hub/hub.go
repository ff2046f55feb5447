// internal/hub/hub.go
package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ExilProductions/purrlobby/internal/auth"
	"github.com/ExilProductions/purrlobby/internal/events"
	"github.com/ExilProductions/purrlobby/internal/journal"
	"github.com/ExilProductions/purrlobby/internal/lobby"
)

// Heartbeat and reaping cadence. The loop waits pongTimeout after each
// ping, then pingInterval before the next one.
const (
	defaultPongTimeout  = 15 * time.Second
	defaultPingInterval = 10 * time.Second
	defaultIdleReap     = 45 * time.Second
)

// Roster is the narrow slice of the engine the hub needs to evict dead
// members and drain idle lobbies. Keeping it an interface breaks the
// engine<->hub cycle; *lobby.Engine satisfies it directly.
type Roster interface {
	Leave(ctx context.Context, gameID, lobbyID uuid.UUID, token string) error
	LeaveByToken(ctx context.Context, gameID uuid.UUID, token string) error
	Members(gameID, lobbyID uuid.UUID) []lobby.Member
}

// Subscriber is one connected peer of a lobby's event stream.
type Subscriber struct {
	transport Transport
	token     string
	userID    string

	// lastResponse is the unix-nano high-water mark of the most recent
	// heartbeat response; it holds the connection time until the first
	// response arrives.
	lastResponse atomic.Int64
}

type roomKey struct {
	gameID  uuid.UUID
	lobbyID uuid.UUID
}

// room holds a lobby's live subscriber set plus the flags guarding the
// single heartbeat loop and the pending idle-cleanup timer.
type room struct {
	mu             sync.Mutex
	subs           map[*Subscriber]struct{}
	heartbeatOn    bool
	cleanupPending bool
}

// Hub is the subscriber registry and broadcast fan-out. It owns the
// per-lobby heartbeat loops and the idle reaper, and reaches back into
// the engine (through Roster) to evict members whose transport died.
type Hub struct {
	log       *logrus.Logger
	validator auth.Validator
	roster    Roster
	journal   *journal.Journal

	mu    sync.RWMutex
	rooms map[roomKey]*room

	pongTimeout  time.Duration
	pingInterval time.Duration
	idleReap     time.Duration
}

// New builds a hub. jrnl may be nil to disable the event journal.
func New(validator auth.Validator, roster Roster, jrnl *journal.Journal, log *logrus.Logger) *Hub {
	return &Hub{
		log:          log,
		validator:    validator,
		roster:       roster,
		journal:      jrnl,
		rooms:        make(map[roomKey]*room),
		pongTimeout:  defaultPongTimeout,
		pingInterval: defaultPingInterval,
		idleReap:     defaultIdleReap,
	}
}

func (h *Hub) room(key roomKey) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[key]
}

func (h *Hub) ensureRoom(key roomKey) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[key]
	if !ok {
		rm = &room{subs: make(map[*Subscriber]struct{})}
		h.rooms[key] = rm
	}
	return rm
}

func (h *Hub) snapshot(rm *room) []*Subscriber {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	subs := make([]*Subscriber, 0, len(rm.subs))
	for s := range rm.subs {
		subs = append(subs, s)
	}
	return subs
}

// HandleConnection admits a subscriber and runs its receive loop until
// the transport dies or the caller's context is cancelled. Inbound
// frames only matter to the hub as heartbeat responses; everything else
// is ignored.
func (h *Hub) HandleConnection(ctx context.Context, gameID, lobbyID uuid.UUID, token string, t Transport) error {
	ident, err := h.validator.Validate(ctx, token)
	if err != nil {
		_ = t.Close(websocket.StatusPolicyViolation, "authentication failed")
		return err
	}

	sub := &Subscriber{transport: t, token: token, userID: ident.UserID}
	sub.lastResponse.Store(time.Now().UnixNano())

	key := roomKey{gameID, lobbyID}
	rm := h.ensureRoom(key)
	rm.mu.Lock()
	rm.subs[sub] = struct{}{}
	rm.mu.Unlock()
	h.ensureHeartbeat(key, rm)

	h.log.WithFields(logrus.Fields{
		"lobby": lobbyID,
		"game":  gameID,
		"user":  ident.UserID,
	}).Info("subscriber connected")

	for {
		data, err := t.Receive(ctx)
		if err != nil {
			break
		}
		if isHeartbeatResponse(data) {
			sub.lastResponse.Store(time.Now().UnixNano())
		}
	}

	h.log.WithFields(logrus.Fields{
		"lobby": lobbyID,
		"game":  gameID,
		"user":  ident.UserID,
	}).Info("subscriber disconnected")

	h.dropSubscriber(key, sub, websocket.StatusNormalClosure, "connection closed")
	return nil
}

// isHeartbeatResponse recognizes the literal tokens pong/hb/heartbeat
// (case-insensitive, trimmed) or a structured payload whose type field
// carries one of them.
func isHeartbeatResponse(frame []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(frame)))
	switch s {
	case "pong", "hb", "heartbeat":
		return true
	}
	if strings.HasPrefix(s, "{") {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &probe); err == nil {
			switch strings.ToLower(strings.TrimSpace(probe.Type)) {
			case "pong", "hb", "heartbeat":
				return true
			}
		}
	}
	return false
}

// dropSubscriber removes one subscriber and arms idle cleanup when the
// set empties.
func (h *Hub) dropSubscriber(key roomKey, sub *Subscriber, code websocket.StatusCode, reason string) {
	rm := h.room(key)
	if rm == nil {
		_ = sub.transport.Close(code, reason)
		return
	}
	rm.mu.Lock()
	delete(rm.subs, sub)
	empty := len(rm.subs) == 0
	rm.mu.Unlock()

	_ = sub.transport.Close(code, reason)
	if empty {
		h.scheduleIdleCleanup(key)
	}
}

// Publish implements lobby.Sink: encode once, fan out, journal.
func (h *Hub) Publish(gameID, lobbyID uuid.UUID, ev events.Event) {
	payload, err := events.Encode(ev)
	if err != nil {
		h.log.Warnf("hub: failed to encode %s event: %v", ev.EventType(), err)
		return
	}
	h.broadcast(roomKey{gameID, lobbyID}, payload)
	h.journal.Publish(gameID, lobbyID, ev.EventType(), payload)
}

// broadcast sends a payload to every live subscriber of a room.
// Transports that are no longer open, or whose send fails, are pruned
// and closed. Fan-out is best-effort: a subscriber added mid-iteration
// may miss this event and catch the next one.
func (h *Hub) broadcast(key roomKey, payload []byte) {
	rm := h.room(key)
	if rm == nil {
		return
	}

	var dead []*Subscriber
	for _, sub := range h.snapshot(rm) {
		if !sub.transport.Open() {
			dead = append(dead, sub)
			continue
		}
		if err := sub.transport.Send(context.Background(), payload); err != nil {
			dead = append(dead, sub)
		}
	}

	if len(dead) > 0 {
		rm.mu.Lock()
		for _, sub := range dead {
			delete(rm.subs, sub)
		}
		rm.mu.Unlock()
		for _, sub := range dead {
			_ = sub.transport.Close(websocket.StatusNormalClosure, "send failed")
		}
	}

	rm.mu.Lock()
	empty := len(rm.subs) == 0
	rm.mu.Unlock()
	if empty {
		h.scheduleIdleCleanup(key)
	} else {
		h.ensureHeartbeat(key, rm)
	}
}

// ensureHeartbeat starts the room's heartbeat loop if it is not already
// running. At most one loop runs per room.
func (h *Hub) ensureHeartbeat(key roomKey, rm *room) {
	rm.mu.Lock()
	if rm.heartbeatOn || len(rm.subs) == 0 {
		rm.mu.Unlock()
		return
	}
	rm.heartbeatOn = true
	rm.mu.Unlock()
	go h.heartbeatLoop(key, rm)
}

// heartbeatLoop pings all subscribers, waits pongTimeout, and evicts
// whoever stayed silent. Evicted members are pushed through the engine
// so membership state follows the transport's death. A subscriber that
// joined after a round's ping is first judged in the next round. Total
// silence of the pinged subscribers force-closes the lobby. The loop
// ends when the set empties.
func (h *Hub) heartbeatLoop(key roomKey, rm *room) {
	defer func() {
		rm.mu.Lock()
		rm.heartbeatOn = false
		restart := len(rm.subs) > 0
		rm.mu.Unlock()
		if restart {
			h.ensureHeartbeat(key, rm)
		}
	}()

	for {
		pinged := make(map[*Subscriber]struct{})
		for _, sub := range h.snapshot(rm) {
			pinged[sub] = struct{}{}
		}
		pingSentAt := time.Now()
		if payload, err := events.Encode(events.Ping{Ts: pingSentAt.UnixMilli()}); err == nil {
			for sub := range pinged {
				if sub.transport.Open() {
					_ = sub.transport.Send(context.Background(), payload)
				}
			}
		}

		time.Sleep(h.pongTimeout)

		subs := h.snapshot(rm)
		if len(subs) == 0 {
			return
		}

		// Compare against the send timestamp so a late response from
		// the previous round still counts for this one.
		cutoff := pingSentAt.UnixNano()
		var silent []*Subscriber
		responders := 0
		for _, sub := range subs {
			if _, ok := pinged[sub]; !ok {
				continue
			}
			if sub.lastResponse.Load() >= cutoff {
				responders++
			} else {
				silent = append(silent, sub)
			}
		}

		if responders == 0 && len(silent) > 0 {
			h.log.WithFields(logrus.Fields{
				"lobby": key.lobbyID,
				"game":  key.gameID,
				"subs":  len(subs),
			}).Warn("no heartbeat responses, force closing lobby")
			h.forceCloseLobby(key)
			return
		}

		for _, sub := range silent {
			rm.mu.Lock()
			delete(rm.subs, sub)
			rm.mu.Unlock()
			_ = sub.transport.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
			h.log.WithFields(logrus.Fields{
				"lobby": key.lobbyID,
				"game":  key.gameID,
				"user":  sub.userID,
			}).Info("evicting unresponsive subscriber")
			if err := h.roster.LeaveByToken(context.Background(), key.gameID, sub.token); err != nil {
				// Stale tokens fail re-validation; the hub-side removal
				// above is what matters.
				h.log.Debugf("hub: eviction leave for lobby %s: %v", key.lobbyID, err)
			}
		}

		rm.mu.Lock()
		empty := len(rm.subs) == 0
		rm.mu.Unlock()
		if empty {
			h.scheduleIdleCleanup(key)
			return
		}

		time.Sleep(h.pingInterval)
	}
}

// scheduleIdleCleanup arms a one-shot reap timer for a room whose
// subscriber set just emptied. Re-entrance is guarded by the room's
// pending flag; a resubscribe before expiry aborts the reap.
func (h *Hub) scheduleIdleCleanup(key roomKey) {
	rm := h.room(key)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	if rm.cleanupPending {
		rm.mu.Unlock()
		return
	}
	rm.cleanupPending = true
	rm.mu.Unlock()

	time.AfterFunc(h.idleReap, func() {
		rm.mu.Lock()
		rm.cleanupPending = false
		if len(rm.subs) > 0 {
			rm.mu.Unlock()
			return
		}
		rm.mu.Unlock()

		h.log.WithFields(logrus.Fields{
			"lobby": key.lobbyID,
			"game":  key.gameID,
		}).Info("reaping idle lobby")
		h.teardown(key)
	})
}

// forceCloseLobby runs the idle-cleanup teardown immediately. Invoked
// when every subscriber stopped answering heartbeats.
func (h *Hub) forceCloseLobby(key roomKey) {
	h.teardown(key)
}

// teardown drains the lobby through the engine so normal leave
// semantics (owner hand-off, lobby_empty) run, then drops the hub's
// bookkeeping.
func (h *Hub) teardown(key roomKey) {
	for _, m := range h.roster.Members(key.gameID, key.lobbyID) {
		if err := h.roster.Leave(context.Background(), key.gameID, key.lobbyID, m.Token); err != nil {
			h.log.Debugf("hub: teardown leave for lobby %s user %s: %v", key.lobbyID, m.UserID, err)
		}
	}
	h.CloseLobby(key.gameID, key.lobbyID)
}

// CloseLobby implements lobby.Sink: atomically drop the subscriber set,
// tell every remaining transport the lobby is gone, and close them.
func (h *Hub) CloseLobby(gameID, lobbyID uuid.UUID) {
	key := roomKey{gameID, lobbyID}
	h.mu.Lock()
	rm := h.rooms[key]
	delete(h.rooms, key)
	h.mu.Unlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	subs := make([]*Subscriber, 0, len(rm.subs))
	for s := range rm.subs {
		subs = append(subs, s)
	}
	rm.subs = make(map[*Subscriber]struct{})
	rm.mu.Unlock()

	payload, err := events.Encode(events.LobbyDeleted{
		LobbyID: lobbyID.String(),
		GameID:  gameID.String(),
	})
	if err != nil {
		h.log.Warnf("hub: failed to encode lobby_deleted: %v", err)
		payload = nil
	}

	for _, sub := range subs {
		if payload != nil && sub.transport.Open() {
			_ = sub.transport.Send(context.Background(), payload)
		}
		_ = sub.transport.Close(websocket.StatusNormalClosure, "lobby closed")
	}

	if payload != nil {
		h.journal.Publish(gameID, lobbyID, events.TypeLobbyDeleted, payload)
	}
}

// SubscriberCount reports the live subscriber count for a lobby.
func (h *Hub) SubscriberCount(gameID, lobbyID uuid.UUID) int {
	rm := h.room(roomKey{gameID, lobbyID})
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.subs)
}
