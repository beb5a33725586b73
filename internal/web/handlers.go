package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/storage"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.limit(w, r)
	if !ok {
		return
	}
	traces, err := s.repo.ListTraces(r.Context(), storage.TraceFilter{
		Symbol:       symbolParam(r),
		DecisionType: domain.DecisionType(strings.ToUpper(r.URL.Query().Get("type"))),
		Limit:        limit,
	})
	if err != nil {
		s.fail(w, "list traces", err)
		return
	}
	writeJSON(w, http.StatusOK, traces)
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.limit(w, r)
	if !ok {
		return
	}
	intents, err := s.repo.ListIntents(r.Context(), symbolParam(r), limit)
	if err != nil {
		s.fail(w, "list intents", err)
		return
	}
	writeJSON(w, http.StatusOK, intents)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.limit(w, r)
	if !ok {
		return
	}
	orders, err := s.repo.ListOrders(r.Context(), symbolParam(r), limit)
	if err != nil {
		s.fail(w, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	counters, err := s.repo.ListExposure(r.Context())
	if err != nil {
		s.fail(w, "list exposure", err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.repo.ListWatchItems(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, maxLimit), true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": op + " failed"})
}

func symbolParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
