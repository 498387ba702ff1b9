package api

import (
	"net/http"
)

// sessionCookie is the cookie carrying the signed session token.
const sessionCookie = "user_jwt"

// authed wraps a handler with session token verification. The token is read
// from the session cookie or, as a fallback for non-browser clients, from a
// bearer Authorization header. The verified user ID is passed to the handler.
func (s *Server) authed(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(sessionCookie); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			respondError(w, r, http.StatusUnauthorized, "login required")
			return
		}

		claims, err := s.tokens.Verify(token)
		if err != nil {
			respondError(w, r, http.StatusUnauthorized, "login required")
			return
		}
		next(w, r, claims.Subject)
	}
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// setSessionCookie attaches a freshly issued token to the response.
func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
