package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cordum/stocklock/core/password"
)

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if s.passwords == nil {
		http.Error(w, "password service unavailable", http.StatusServiceUnavailable)
		return
	}
	userID, ok := parseUserID(r.PathValue("userId"))
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	// the password itself only goes to the delivery channel
	if _, err := s.passwords.Issue(r.Context(), userID, password.DefaultTTL); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       userID,
		"expires_in_ms": password.DefaultTTL.Milliseconds(),
	})
}

func (s *Server) handleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	if s.passwords == nil {
		http.Error(w, "password service unavailable", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	userID, ok := parseUserID(q.Get("userId"))
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	verified, err := s.passwords.Verify(r.Context(), userID, q.Get("temporaryPassword"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !verified {
		http.Error(w, "temporary password invalid or expired", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "verified": true})
}

func parseUserID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return "", false
	}
	return raw, true
}
