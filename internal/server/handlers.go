package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kiteflow/trader/internal/botconfig"
	"github.com/kiteflow/trader/internal/brokererr"
)

// apiError is the control plane's stable error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type apiErrorEnvelope struct {
	Error apiError `json:"error"`
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes the control plane's {error:{code,message,field?}} body
// at the given status.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string, field ...string) {
	e := apiError{Code: code, Message: message}
	if len(field) > 0 {
		e.Field = field[0]
	}
	s.writeJSON(w, status, apiErrorEnvelope{Error: e})
}

// writeErrFromAdapter classifies err against the brokererr taxonomy and the
// FieldError variant and writes the matching status + body.
func (s *Server) writeErrFromAdapter(w http.ResponseWriter, err error) {
	var fe *botconfig.FieldError
	switch {
	case errors.As(err, &fe):
		s.writeError(w, http.StatusBadRequest, "validation-failed", fe.Message, fe.Field)
	case errors.Is(err, brokererr.ErrValidation):
		s.writeError(w, http.StatusBadRequest, "validation-failed", err.Error())
	case errors.Is(err, brokererr.ErrAuthFailed):
		s.writeError(w, http.StatusUnauthorized, "auth-failed", err.Error())
	case errors.Is(err, brokererr.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not-found", err.Error())
	case errors.Is(err, brokererr.ErrStateConflict):
		s.writeError(w, http.StatusConflict, "state-conflict", err.Error())
	case errors.Is(err, brokererr.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusTooManyRequests, "rate-limited", err.Error())
	case errors.Is(err, brokererr.ErrVendorUnavailable), errors.Is(err, brokererr.ErrNetworkFailed), errors.Is(err, brokererr.ErrNotConnected):
		s.writeError(w, http.StatusServiceUnavailable, "broker-unreachable", err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "internal-error", err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "kiteflow-trader",
	})
}

// systemStats reports host CPU and RAM usage the way the teacher's
// SystemHandlers.getSystemStats does: a short cpu.Percent sample (100ms, to
// keep the endpoint fast) plus an instantaneous mem.VirtualMemory read.
// Either stat degrades to 0 with a logged warning rather than failing the
// request — this is a liveness aid, not a hard dependency.
func (s *Server) systemStats() (cpuPercent, ramPercent float64) {
	pct, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read cpu percent")
		pct = []float64{0}
	}
	if len(pct) > 0 {
		cpuPercent = pct[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read memory stats")
		return cpuPercent, 0
	}
	return cpuPercent, vm.UsedPercent
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	cpuPercent, ramPercent := s.systemStats()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "running",
		"cpu_percent": cpuPercent,
		"ram_percent": ramPercent,
		"process_memory": map[string]interface{}{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"num_gc":         m.NumGC,
		},
		"goroutines":   runtime.NumGoroutine(),
		"catalog_size": s.catalog.Len(),
	})
}
