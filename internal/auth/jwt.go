package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"messenger/internal/models"
	"messenger/internal/repositories"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a bearer credential to a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// UserLookup is the subset of the user repository the verifier needs.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// Claims carries the user id issued at login.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens and checks that the user exists.
type JWTVerifier struct {
	secret []byte
	users  UserLookup
}

func NewJWTVerifier(secret string, users UserLookup) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), users: users}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: missing userId claim", ErrInvalidToken)
	}

	if _, err := v.users.GetUser(ctx, claims.UserID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return "", fmt.Errorf("%w: unknown user", ErrInvalidToken)
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	return claims.UserID, nil
}

// NewToken signs a token for userID. A zero ttl produces a token without
// expiry.
func NewToken(secret, userID string, ttl time.Duration) (string, error) {
	claims := Claims{UserID: userID}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
