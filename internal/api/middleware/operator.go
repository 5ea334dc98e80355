package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/swoopinfo/swoopkb/internal/api"
)

// OperatorToken guards admin routes with a static bearer token. An empty
// configured token disables the routes entirely rather than leaving them open.
func OperatorToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				api.Error(w, http.StatusNotFound, "not found")
				return
			}

			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				api.Error(w, http.StatusUnauthorized, "invalid operator token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
