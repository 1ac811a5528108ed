package auth

import (
	"net/http"
	"strings"

	"github.com/streamtube/streamtube/internal/httputil"
)

func extractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie("accessToken"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return token
		}
	}
	return ""
}

// RequireAuth rejects the request with 401 unless a valid access token
// resolves to an existing user. The sanitized user is attached to the
// request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractAccessToken(r)
		if token == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		user, ok := h.resolveUser(w, r, token)
		if !ok {
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// OptionalAuth lets anonymous requests through untouched. A presented token
// is still either honored or rejected, never silently ignored.
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractAccessToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, ok := h.resolveUser(w, r, token)
		if !ok {
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (h *Handler) resolveUser(w http.ResponseWriter, r *http.Request, token string) (*User, bool) {
	claims, err := ValidateAccessToken(h.accessSecret, token)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
		return nil, false
	}

	user, err := fetchUserByID(r.Context(), h.db, claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
		return nil, false
	}

	return user, true
}
