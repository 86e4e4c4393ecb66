package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"scanwedge/internal/health"
	"scanwedge/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth answers 200 while healthy or degraded and 503 otherwise.
// ?full=true includes every component.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
		return
	}

	report := s.health.Report(r.Context(), r.URL.Query().Get("full") == "true")
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy || report.Status == health.StatusUnknown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Reset()
	s.log.WithContext(r.Context()).Info("reset via api")
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Enable()
	s.log.WithContext(r.Context()).Info("enabled via api")
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Disable()
	s.log.WithContext(r.Context()).Info("disabled via api")
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// parseLimit reads ?limit=n, defaulting to defaultLimit and capped at
// maxLimit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "scan history disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scans, err := s.history.RecentScans(r.Context(), limit)
	if err != nil {
		s.log.WithContext(r.Context()).Error("read scans", "error", err)
		writeError(w, http.StatusInternalServerError, "read scans failed")
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleTopCodes(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "scan history disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	counts, err := s.history.CountByCode(r.Context(), limit)
	if err != nil {
		s.log.WithContext(r.Context()).Error("count codes", "error", err)
		writeError(w, http.StatusInternalServerError, "count codes failed")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "scan history disabled")
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	sc, err := s.history.ScanByID(r.Context(), id)
	s.writeScan(w, r, sc, err, "id", id)
}

// handleSession looks a scan up by the session id published with it.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "scan history disabled")
		return
	}
	session := mux.Vars(r)["session"]
	sc, err := s.history.ScanBySession(r.Context(), session)
	s.writeScan(w, r, sc, err, "session", session)
}

func (s *Server) writeScan(w http.ResponseWriter, r *http.Request, sc *store.Scan, err error, key string, val interface{}) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "scan not found")
	case err != nil:
		s.log.WithContext(r.Context()).Error("read scan", key, val, "error", err)
		writeError(w, http.StatusInternalServerError, "read scan failed")
	default:
		writeJSON(w, http.StatusOK, sc)
	}
}
