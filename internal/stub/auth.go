package stub

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	sessionCookieName       = "better-auth.session_token"
	secureSessionCookieName = "__Secure-better-auth.session_token"
)

// requireUser admits requests carrying either a session cookie (under
// either better-auth cookie name) or a valid API key as a bearer token.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sessionOK(r) || s.apiKeyOK(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

// requireCron admits only the cron secret, never sessions or API keys.
func (s *Server) requireCron(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := strings.TrimSpace(s.cfg.CronSecret)
		if secret == "" || bearerToken(r) == "" ||
			subtle.ConstantTimeCompare([]byte(bearerToken(r)), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sessionOK(r *http.Request) bool {
	required := strings.TrimSpace(s.cfg.SessionToken)
	if required == "" {
		return false
	}
	for _, name := range []string{sessionCookieName, secureSessionCookieName} {
		cookie, err := r.Cookie(name)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(required)) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) apiKeyOK(r *http.Request) bool {
	candidate := bearerToken(r)
	if candidate == "" {
		return false
	}
	required := strings.TrimSpace(s.cfg.APIKey)
	if required != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(required)) == 1 {
		return true
	}
	ok := false
	s.store.Read(func(state *State) {
		for _, key := range state.APIKeys {
			if subtle.ConstantTimeCompare([]byte(key.Key), []byte(candidate)) == 1 {
				ok = true
			}
		}
	})
	return ok
}

func bearerToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authHeader[7:])
}
