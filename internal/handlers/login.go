package handlers

import (
	"crypto/subtle"
	"net/http"

	"somnoalert/internal/config"
	"somnoalert/internal/logger"
	"somnoalert/internal/middleware"
)

// LoginHandler checks the shared password and sets the session cookie.
func LoginHandler(cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		password := r.FormValue("password")
		if cfg.Password == "" || subtle.ConstantTimeCompare([]byte(password), []byte(cfg.Password)) != 1 {
			logger.Warning("Failed login attempt from %s", r.RemoteAddr)
			http.Error(w, "Invalid password", http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.CookieName,
			Value:    middleware.CookieValue(cfg.Password),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}
