package backend

import (
	"context"
	"net/http"
	"strings"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/logger"
)

type contextKey string

const userIDKey contextKey = "user_id"

// GetUserID returns the authenticated user ID from the context (set by BearerAuth).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// TokenSource resolves bearer tokens. Satisfied by *Repository.
type TokenSource interface {
	UserForToken(ctx context.Context, token string) (string, error)
}

// BearerAuth resolves the Authorization header against the sessions table and
// stores the user ID in the request context. 401 on missing or unknown tokens.
func BearerAuth(repo TokenSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == "" || token == auth {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			userID, err := repo.UserForToken(r.Context(), token)
			if err != nil {
				logger.Errorf("auth lookup: %v", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if userID == "" {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
		})
	}
}
