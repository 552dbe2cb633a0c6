// Package identity resolves the anonymous device identity and the chat
// session a request belongs to.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AnonCookieName        = "studia_anon_id"
	SessionHeaderName     = "X-Studia-Session-ID"
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ErrInvalidSessionID is returned for a session ID outside the allowed
// alphabet or length.
var ErrInvalidSessionID = errors.New("invalid session_id: use 1-128 characters from A-Z, a-z, 0-9 and . _ : -")

// UserIDFromContext returns the anonymous device ID, or "" outside the middleware.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext returns the chat session resolved for the request.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// ParseSessionID validates a client supplied session ID. An empty ID selects
// the default session; anything else must match the allowed pattern.
func ParseSessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSessionIDValue, nil
	}
	if !sessionIDPattern.MatchString(id) {
		return "", ErrInvalidSessionID
	}
	return id, nil
}

// anonID returns the device ID from the cookie, minting a UUID when the
// cookie is missing or was not issued by us. The cookie is refreshed on
// every request so active devices keep their transcripts together.
func anonID(w http.ResponseWriter, r *http.Request, secure bool) string {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil {
		if parsed, err := uuid.Parse(c.Value); err == nil {
			id = parsed.String()
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
	return id
}

func sessionIDFromRequest(r *http.Request) (string, error) {
	for _, candidate := range []string{
		r.Header.Get(SessionHeaderName),
		r.URL.Query().Get(SessionQueryParam),
	} {
		if strings.TrimSpace(candidate) != "" {
			return ParseSessionID(candidate)
		}
	}
	return DefaultSessionIDValue, nil
}

// Middleware attaches the device ID and session ID to the request context.
// The cookie is marked Secure outside development. A malformed session
// header or query parameter is rejected with 400.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := sessionIDFromRequest(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, anonID(w, r, !isDev))
			ctx = context.WithValue(ctx, sessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
