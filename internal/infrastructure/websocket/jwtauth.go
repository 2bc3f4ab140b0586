package websocket

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
	ErrExpiredToken = errors.New("token has expired")
)

// PlayerClaims identifies the player a WebSocket connection authenticates
// as, and optionally pins it to one story so a token minted for one
// playthrough can't be replayed against another.
type PlayerClaims struct {
	PlayerID string `json:"player_id"`
	StoryID  string `json:"story_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth implements SessionAuthenticator using HMAC-signed JWTs, tried in
// order against the Authorization header, the "token" query parameter (for
// browser clients that can't set custom headers during the WS handshake),
// and the Sec-WebSocket-Protocol header.
type JWTAuth struct {
	secretKey string
}

// NewJWTAuth builds a JWTAuth validating tokens signed with secretKey.
func NewJWTAuth(secretKey string) *JWTAuth {
	return &JWTAuth{secretKey: secretKey}
}

// Authenticate implements SessionAuthenticator.
func (a *JWTAuth) Authenticate(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return a.validateToken(strings.TrimPrefix(authHeader, "Bearer "))
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return a.validateToken(token)
	}

	if protocols := r.Header.Get("Sec-WebSocket-Protocol"); protocols != "" {
		for _, p := range strings.Split(protocols, ",") {
			p = strings.TrimSpace(p)
			if rest, ok := strings.CutPrefix(p, "auth-"); ok {
				return a.validateToken(rest)
			}
		}
	}

	return "", ErrMissingToken
}

func (a *JWTAuth) validateToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &PlayerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(a.secretKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*PlayerClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	playerID := claims.PlayerID
	if playerID == "" {
		playerID = claims.Subject
	}
	if playerID == "" {
		return "", ErrInvalidToken
	}
	return playerID, nil
}

// IssueToken mints a token identifying playerID, optionally pinned to
// storyID, expiring after ttl.
func (a *JWTAuth) IssueToken(playerID, storyID string, ttl time.Duration) (string, error) {
	claims := PlayerClaims{
		PlayerID: playerID,
		StoryID:  storyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.secretKey))
}
