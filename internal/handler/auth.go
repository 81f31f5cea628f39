package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const authRealm = `Basic realm="remedial", charset="UTF-8"`

// requireAuth checks HTTP basic credentials against the configured user and
// bcrypt password hash.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok {
			h.unauthorized(w)
			return
		}

		userOK := len(user) == len(h.config.APIUser) &&
			subtle.ConstantTimeCompare([]byte(user), []byte(h.config.APIUser)) == 1
		// Always run bcrypt so a wrong username costs the same as a wrong password.
		passErr := bcrypt.CompareHashAndPassword([]byte(h.config.APIPasswordHash), []byte(password))
		if !userOK || passErr != nil {
			slog.Warn("API authentication failed", "user", user, "remote", r.RemoteAddr)
			h.unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", authRealm)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

// HashPassword returns the bcrypt hash for an API password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
