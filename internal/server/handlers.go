package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/lvar"
)

type errorResponse struct {
	Error string `json:"error"`
}

type varResponse struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	OK    bool    `json:"ok"`
	Error string  `json:"error,omitempty"`
}

type writeRequest struct {
	Value string `json:"value"`
}

type healthResponse struct {
	Status string     `json:"status"`
	Uptime string     `json:"uptime"`
	Broker lvar.Stats `json:"broker"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status monitor disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.status.Current())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status monitor disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.status.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Broker: s.broker.Stats(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusNotFound, "polling disabled")
		return
	}
	snap := s.snapshots.Latest()
	if snap == nil {
		writeError(w, http.StatusNotFound, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListVars(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Snapshot())
}

// handleGetVar reads one variable. Names without parentheses are wrapped,
// so /api/vars/L:A32NX_GEAR reads "(L:A32NX_GEAR)".
func (s *Server) handleGetVar(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	timeout, err := s.parseTimeout(r.URL.Query().Get("timeout"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := s.broker.Lookup(r.Context(), lvar.Expr(name), timeout)
	resp := varResponse{Name: name, Value: v, OK: err == nil}
	if err != nil {
		resp.Error = err.Error()
		s.logger.Debug("variable read failed", zap.String("name", name), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWriteVar(w http.ResponseWriter, r *http.Request) {
	if s.config.ReadOnly {
		writeError(w, http.StatusForbidden, "server is read-only")
		return
	}
	name := chi.URLParam(r, "name")

	var req writeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Only value conversion fails synchronously; the command is best effort.
	if err := s.broker.Write(r.Context(), name, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("variable written", zap.String("name", name), zap.String("value", req.Value))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.config.ReadOnly {
		writeError(w, http.StatusForbidden, "server is read-only")
		return
	}
	s.broker.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// parseTimeout accepts a Go duration ("250ms") or plain milliseconds.
func (s *Server) parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return s.config.DefaultTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		ms, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, errors.New("invalid timeout: " + raw)
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d <= 0 {
		return 0, errors.New("timeout must be positive")
	}
	if d > s.config.MaxTimeout {
		d = s.config.MaxTimeout
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
