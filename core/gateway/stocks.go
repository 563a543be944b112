package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/cordum/stocklock/core/guard"
	"github.com/cordum/stocklock/core/infra/schema"
)

type stockResponse struct {
	ID     int64         `json:"id"`
	Count  int64         `json:"count"`
	Result *guard.Result `json:"result,omitempty"`
}

type putStockRequest struct {
	Count int64 `json:"count"`
}

type decreaseRequest struct {
	Quantity  int64 `json:"quantity"`
	Unguarded bool  `json:"unguarded"`
}

func (s *Server) handleGetStock(w http.ResponseWriter, r *http.Request) {
	if s.stocks == nil {
		http.Error(w, "stock service unavailable", http.StatusServiceUnavailable)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := s.stocks.Get(r.Context(), id)
	if err != nil {
		writeGuardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{ID: st.ID, Count: st.Count()})
}

func (s *Server) handlePutStock(w http.ResponseWriter, r *http.Request) {
	if s.stocks == nil {
		http.Error(w, "stock service unavailable", http.StatusServiceUnavailable)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req putStockRequest
	if !decodeValidated(w, r, schema.StockPut, &req) {
		return
	}
	st, err := s.stocks.Put(r.Context(), id, req.Count)
	if err != nil {
		writeGuardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{ID: st.ID, Count: st.Count()})
}

func (s *Server) handleDecreaseStock(w http.ResponseWriter, r *http.Request) {
	if s.stocks == nil {
		http.Error(w, "stock service unavailable", http.StatusServiceUnavailable)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req := decreaseRequest{Quantity: 1}
	if !decodeValidated(w, r, schema.StockDecrease, &req) {
		return
	}
	if req.Unguarded {
		st, err := s.stocks.DecreaseWithoutLock(r.Context(), id, req.Quantity)
		if err != nil {
			writeGuardError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stockResponse{ID: st.ID, Count: st.Count()})
		return
	}

	st, res, err := s.stocks.DecreaseWithLock(r.Context(), id, req.Quantity)
	if err != nil {
		writeGuardError(w, err)
		return
	}
	if res.Outcome == guard.OutcomeCancelled {
		http.Error(w, "request cancelled while waiting for lock", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{ID: st.ID, Count: st.Count(), Result: &res})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid stock id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decodeValidated reads the body, validates it against the named request
// schema and decodes it into dst. An empty body leaves dst untouched.
func decodeValidated(w http.ResponseWriter, r *http.Request, schemaName string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := schema.ValidateRequest(schemaName, body); err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, schema.ErrInvalid) {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}
