package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerToken returns middleware that requires "Authorization: Bearer <token>"
// on every path except the public ones. token is read per request so a
// rotated secret applies immediately; an empty token disables the check.
func BearerToken(token func() string, publicPaths ...string) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := token()
			if want == "" || public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"authorization required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
