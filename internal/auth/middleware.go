package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ycchat/ycchat/internal/user"
)

type ctxKey struct{}

type TokenValidator interface {
	ValidateToken(token string) (user.ID, error)
}

func WithUserID(ctx context.Context, id user.ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func UserIDFromContext(ctx context.Context) (user.ID, bool) {
	id, ok := ctx.Value(ctxKey{}).(user.ID)
	return id, ok && id != ""
}

// TokenFromRequest reads a bearer token from the Authorization header, or from
// the token query parameter for clients that cannot set headers on a
// websocket upgrade.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Middleware rejects requests without a valid access token and stores the
// caller's user id in the request context.
func Middleware(v TokenValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := v.ValidateToken(TokenFromRequest(r))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="ycchat"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}
