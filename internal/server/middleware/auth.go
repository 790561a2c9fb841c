package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type userKey struct{}

// User returns the authenticated username stored by BasicAuth, or "" when
// auth is disabled.
func User(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}

// BasicAuth returns middleware that checks HTTP basic credentials against a
// username and bcrypt password hash. Requests whose path starts with one of
// the public prefixes pass through. If username is empty, authentication is
// disabled.
func BasicAuth(username, passwordHash string, public ...string) func(http.Handler) http.Handler {
	hash := []byte(passwordHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if username == "" || isPublic(r.URL.Path, public) {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok {
				writeUnauthorized(w, "missing credentials")
				return
			}

			// Always run bcrypt so a wrong username costs the same as a
			// wrong password.
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passOK := bcrypt.CompareHashAndPassword(hash, []byte(pass)) == nil
			if !userOK || !passOK {
				writeUnauthorized(w, "invalid credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
		})
	}
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="optionbot", charset="UTF-8"`)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
