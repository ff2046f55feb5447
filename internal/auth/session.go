// internal/auth/session.go
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// privateKey and publicKey are used for signing and verifying session tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// TOKEN_EXPIRE_TIME_SEC indicates how many seconds until token expiration (0 => never).
	TOKEN_EXPIRE_TIME_SEC int
)

// ErrInvalidToken is returned for any token that fails verification,
// including expired and malformed tokens.
var ErrInvalidToken = errors.New("invalid or expired session token")

// Identity is what a session token resolves to.
type Identity struct {
	UserID      string
	DisplayName string
}

// Validator maps an opaque session token to the identity it was issued
// for. Implementations must be idempotent and side-effect free; the
// engine calls Validate on every mutating operation.
type Validator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// parseTokenExpireTime reads the TOKEN_EXPIRE_TIME env var and sets TOKEN_EXPIRE_TIME_SEC accordingly.
func parseTokenExpireTime() {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		TOKEN_EXPIRE_TIME_SEC = 0
	} else {
		d, err := time.ParseDuration(duration)
		if err != nil {
			fmt.Printf("failed to parse token expire time: %v\n", err)
			os.Exit(1)
		}
		TOKEN_EXPIRE_TIME_SEC = int(d.Seconds())
	}
}

// Init generates a fresh ed25519 key pair at runtime and sets the token expiration.
func Init() {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		fmt.Printf("failed to generate ed25519 key pair: %v\n", err)
		os.Exit(1)
	}
	parseTokenExpireTime()
}

// InitFromPath reads ed25519 private/public keys from file and sets the token expiration.
func InitFromPath(privatePath, publicPath string) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	parseTokenExpireTime()
	return nil
}

// CreateJWT creates a signed session token with "sub" = userID and
// "name" = displayName. Expiry follows TOKEN_EXPIRE_TIME_SEC.
func CreateJWT(userID, displayName string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"name": displayName,
	}

	if TOKEN_EXPIRE_TIME_SEC > 0 {
		claims["exp"] = time.Now().Add(time.Duration(TOKEN_EXPIRE_TIME_SEC) * time.Second).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a token string and returns the identity it
// carries, else ErrInvalidToken.
func AuthenticateJWT(tokenString string) (Identity, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})

	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return Identity{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	displayName, _ := claims["name"].(string)

	return Identity{UserID: userID, DisplayName: displayName}, nil
}

// JWTValidator adapts the package-level verification into the Validator
// seam consumed by the engine and hub.
type JWTValidator struct{}

// Validate implements Validator.
func (JWTValidator) Validate(_ context.Context, token string) (Identity, error) {
	return AuthenticateJWT(token)
}
