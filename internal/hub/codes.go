// internal/hub/codes.go
package hub

// Custom WebSocket close codes used by the subscriber surface. These
// provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Provided session token was invalid or expired.
	InvalidLobbyIDError   = 3003 // Target lobby ID specified in the WS URL was malformed.
)
