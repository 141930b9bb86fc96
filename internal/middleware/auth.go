package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// CookieName is the session cookie set by the login handler.
const CookieName = "authenticated"

// CookieValue derives the session cookie value from the shared password so
// that changing the password invalidates old cookies.
func CookieValue(password string) string {
	sum := sha256.Sum256([]byte("somnoalert:" + password))
	return hex.EncodeToString(sum[:])
}

// AuthMiddleware guards configuration writes and the log endpoints. With
// an empty password everything is open.
func AuthMiddleware(password string, next http.Handler) http.Handler {
	expected := []byte(CookieValue(password))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if password == "" || !protected(r) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(CookieName)
		if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), expected) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func protected(r *http.Request) bool {
	if r.URL.Path == "/config" {
		return r.Method != http.MethodGet && r.Method != http.MethodHead
	}
	return strings.HasPrefix(r.URL.Path, "/logs/")
}
