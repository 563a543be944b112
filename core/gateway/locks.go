package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/cordum/stocklock/core/infra/schema"
	"github.com/google/uuid"
)

type lockRequest struct {
	Key   string `json:"key"`
	Token string `json:"token"`
	TTLms int64  `json:"ttl_ms"`
}

type lockResponse struct {
	Key      string `json:"key"`
	Token    string `json:"token"`
	TTLms    int64  `json:"ttl_ms,omitempty"`
	Acquired bool   `json:"acquired,omitempty"`
	Released bool   `json:"released,omitempty"`
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	if s.locks == nil {
		http.Error(w, "lock store unavailable", http.StatusServiceUnavailable)
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}
	lock, err := s.locks.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, locks.ErrNotHeld) {
			http.Error(w, "lock not found", http.StatusNotFound)
			return
		}
		writeGuardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lock)
}

func (s *Server) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	if s.locks == nil {
		http.Error(w, "lock store unavailable", http.StatusServiceUnavailable)
		return
	}
	var req lockRequest
	if !decodeValidated(w, r, schema.LockAcquire, &req) {
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token = uuid.NewString()
	}
	ttl := time.Duration(req.TTLms) * time.Millisecond
	if ttl <= 0 {
		ttl = locks.DefaultTTL
	}
	ok, err := s.locks.Acquire(r.Context(), req.Key, token, ttl)
	if err != nil {
		writeGuardError(w, err)
		return
	}
	if !ok {
		http.Error(w, "lock unavailable", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{
		Key:      strings.TrimSpace(req.Key),
		Token:    token,
		TTLms:    ttl.Milliseconds(),
		Acquired: true,
	})
}

func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	if s.locks == nil {
		http.Error(w, "lock store unavailable", http.StatusServiceUnavailable)
		return
	}
	var req lockRequest
	if !decodeValidated(w, r, schema.LockRelease, &req) {
		return
	}
	released, err := s.locks.Release(r.Context(), req.Key, req.Token)
	if err != nil {
		writeGuardError(w, err)
		return
	}
	if !released {
		http.Error(w, "lock not held", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{
		Key:      strings.TrimSpace(req.Key),
		Token:    strings.TrimSpace(req.Token),
		Released: true,
	})
}
