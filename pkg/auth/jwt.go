package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type contextKey string

const UserKey contextKey = "user"

// Authenticator issues and validates HS256 tokens carrying a user id.
type Authenticator struct {
	key []byte
	ttl time.Duration
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{key: []byte(secret), ttl: ttl}
}

// GenerateToken creates a new JWT token for a given user ID
func (a *Authenticator) GenerateToken(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrUnauthenticated)
	}
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.key)
}

// ValidateToken parses and validates a JWT token. Every failure wraps
// ErrUnauthenticated.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	return claims, nil
}

// Authenticate validates the bearer token of r. The Authorization header is
// preferred; the token query parameter is accepted for WebSocket clients
// that cannot set headers.
func (a *Authenticator) Authenticate(r *http.Request) (*Claims, error) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, fmt.Errorf("%w: no token provided", ErrUnauthenticated)
	}
	return a.ValidateToken(tokenString)
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserKey, claims)
}

// UserID returns the authenticated user id stored in ctx.
func UserID(ctx context.Context) (string, bool) {
	claims, ok := ctx.Value(UserKey).(*Claims)
	if !ok || claims == nil || claims.UserID == "" {
		return "", false
	}
	return claims.UserID, true
}
