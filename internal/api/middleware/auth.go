package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mcoot/roundsync/internal/api/apierr"
	"github.com/mcoot/roundsync/internal/model"
)

type contextKey string

const sessionContextKey contextKey = "session"

// RequireSession rejects requests that carry no session token. Whether the
// session is valid for the addressed round is decided by the service.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			apierr.WriteError(w, apierr.NewUnauthorizedError())
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the session token from the Authorization header
func BearerToken(r *http.Request) model.SessionID {
	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return model.SessionID(strings.TrimSpace(token))
	}
	return ""
}

// GetSessionID returns the session ID from the request context
func GetSessionID(ctx context.Context) model.SessionID {
	id, _ := ctx.Value(sessionContextKey).(model.SessionID)
	return id
}
