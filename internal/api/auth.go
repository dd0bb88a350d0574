package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth rejects requests without the operator token in the
// Authorization header.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return bearerAuth(token, false)
}

// BearerOrQueryAuth also accepts the token as a "token" query parameter, for
// browser websocket clients that cannot set headers.
func BearerOrQueryAuth(token string) func(http.Handler) http.Handler {
	return bearerAuth(token, true)
}

func bearerAuth(token string, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tokenMatches(requestToken(r, allowQuery), token) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request, allowQuery bool) string {
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

func tokenMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
