package myMiddleware

import (
	"context"
	"net/http"
	"strings"
)

// Context keys (exported so other packages can read them)
type contextKey string

const (
	UserKey     contextKey = "user_id"
	NicknameKey contextKey = "nickname"
)

// TokenValidator is what we need from the user service.
// This interface decouples 'middleware' from 'user'.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle authenticates the request and injects the user id and nickname
// into the context. The token comes from the Authorization header, or from
// a query param for websocket upgrades where the browser cannot set
// headers.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}

		// Fallback: query params, used by the websocket client
		if tokenString == "" {
			tokenString = r.URL.Query().Get("access_token")
		}
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, nickname, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, NicknameKey, nickname)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
