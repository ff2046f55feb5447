// internal/lobby/lobby.go
package lobby

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Bounds applied to lobby creation and property writes.
const (
	MinPlayers        = 2
	MaxPlayers        = 64
	MaxProperties     = 32
	MaxKeyLen         = 64
	MaxValueLen       = 256
	MaxDisplayNameLen = 64

	// NameProperty is the privileged property key mirrored to the
	// lobby's display name.
	NameProperty = "name"
)

// Member is a user currently participating in a lobby. Token is the
// session bearer captured at admission; it never leaves the process
// (the view layer projects MemberView instead).
type Member struct {
	UserID      string
	DisplayName string
	Token       string
	IsReady     bool
}

// property keeps the sanitized original-cased key next to its value;
// the surrounding map is keyed by the lowercased form.
type property struct {
	key   string
	value string
}

// Lobby is an ephemeral, tenant-scoped room collecting players before a
// game starts. All mutable fields are guarded by mu; the engine locks,
// mutates, unlocks, and only then emits events.
type Lobby struct {
	mu sync.Mutex

	id     uuid.UUID
	code   string
	gameID uuid.UUID

	name       string
	ownerID    string
	maxPlayers int
	createdAt  time.Time
	started    bool
	removed    bool

	props   map[string]property
	members []*Member
}

// MemberView is the client-visible projection of a Member.
type MemberView struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsReady     bool   `json:"isReady"`
}

// View is the client-visible projection of a Lobby. IsOwner is computed
// relative to the caller's session token; search results carry false.
type View struct {
	LobbyID      string            `json:"lobbyId"`
	LobbyCode    string            `json:"lobbyCode"`
	GameID       string            `json:"gameId"`
	Name         string            `json:"name"`
	OwnerUserID  string            `json:"ownerUserId"`
	MaxPlayers   int               `json:"maxPlayers"`
	CreatedAtUtc time.Time         `json:"createdAtUtc"`
	Started      bool              `json:"started"`
	IsOwner      bool              `json:"isOwner"`
	Properties   map[string]string `json:"properties"`
	Members      []MemberView      `json:"members"`
}

// memberByToken locates a member by session token. Assumes mu is held.
func (l *Lobby) memberByToken(token string) *Member {
	for _, m := range l.members {
		if m.Token == token {
			return m
		}
	}
	return nil
}

// memberByUserID locates a member by user identity. Assumes mu is held.
func (l *Lobby) memberByUserID(userID string) *Member {
	for _, m := range l.members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

// setProperty writes a sanitized key/value pair, mirroring the Name key
// onto the lobby's display name. Assumes mu is held. Returns false when
// a new key would exceed the property cap.
func (l *Lobby) setProperty(key, value string) bool {
	lower := strings.ToLower(key)
	if _, exists := l.props[lower]; !exists && len(l.props) >= MaxProperties {
		return false
	}
	l.props[lower] = property{key: key, value: value}
	if lower == NameProperty {
		l.name = value
	}
	return true
}

// viewFor projects the lobby for a caller identified by session token.
// An empty token yields a caller-free projection (IsOwner always
// false). Assumes mu is held.
func (l *Lobby) viewFor(callerToken string) View {
	props := make(map[string]string, len(l.props))
	for _, p := range l.props {
		props[p.key] = p.value
	}
	members := make([]MemberView, 0, len(l.members))
	isOwner := false
	for _, m := range l.members {
		members = append(members, MemberView{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			IsReady:     m.IsReady,
		})
		if callerToken != "" && m.Token == callerToken && m.UserID == l.ownerID {
			isOwner = true
		}
	}
	return View{
		LobbyID:      l.id.String(),
		LobbyCode:    l.code,
		GameID:       l.gameID.String(),
		Name:         l.name,
		OwnerUserID:  l.ownerID,
		MaxPlayers:   l.maxPlayers,
		CreatedAtUtc: l.createdAt,
		Started:      l.started,
		IsOwner:      isOwner,
		Properties:   props,
		Members:      members,
	}
}

// clampPlayers forces maxPlayers into [MinPlayers, MaxPlayers].
func clampPlayers(n int) int {
	if n < MinPlayers {
		return MinPlayers
	}
	if n > MaxPlayers {
		return MaxPlayers
	}
	return n
}

// sanitizeDisplayName trims surrounding whitespace, drops control
// characters other than tab/CR/LF, and truncates to MaxDisplayNameLen.
func sanitizeDisplayName(s string) string {
	return sanitizeText(s, MaxDisplayNameLen)
}

// sanitizeKey normalizes a property key; an empty result means the key
// is unusable.
func sanitizeKey(s string) string {
	return sanitizeText(s, MaxKeyLen)
}

// sanitizeValue normalizes a property value.
func sanitizeValue(s string) string {
	return sanitizeText(s, MaxValueLen)
}

func sanitizeText(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' && r != '\r' && r != '\n' {
			continue
		}
		b.WriteRune(r)
	}
	runes := []rune(b.String())
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	return string(runes)
}
