package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/jobfit-api/internal/api/shared"
	"github.com/phrazzld/jobfit-api/internal/platform/logger"
	"github.com/phrazzld/jobfit-api/internal/redact"
)

// Token validation errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const clockSkew = 30 * time.Second

// AuthMiddleware provides bearer JWT authentication for routes. Tokens are
// HS256-signed with a shared secret; the subject claim is put in the request
// context.
type AuthMiddleware struct {
	secret []byte
	now    func() time.Time
}

// NewAuthMiddleware creates a new AuthMiddleware with the given signing secret.
func NewAuthMiddleware(secret string) (*AuthMiddleware, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	return &AuthMiddleware{secret: []byte(secret), now: time.Now}, nil
}

// ValidateToken parses tokenString and returns its subject.
func (m *AuthMiddleware) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Authenticate validates JWT tokens from the Authorization header and
// adds the subject to the request context for authorized requests.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "AuthenticationError",
				"Authorization header required")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || token == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "AuthenticationError",
				"Invalid authorization format")
			return
		}

		subject, err := m.ValidateToken(token)
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, ErrExpiredToken) {
				message = "Token expired"
			}
			logger.FromContext(r.Context()).Debug("rejected bearer token",
				slog.String("error", redact.Error(err)))
			shared.RespondWithError(w, r, http.StatusUnauthorized, "AuthenticationError", message)
			return
		}

		ctx := context.WithValue(r.Context(), shared.SubjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
