package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/o11y-orchestrator/internal/audit"
	"github.com/xela07ax/o11y-orchestrator/internal/connectors"
	"github.com/xela07ax/o11y-orchestrator/internal/engine"
)

const healthTimeout = 2 * time.Second

type processData struct {
	RecordID          string             `json:"recordId"`
	RecentCount       int64              `json:"recentCount"`
	ThirdParty        string             `json:"thirdParty"`
	DownstreamCompute connectors.Outcome `json:"downstreamCompute"`
	DownstreamEnqueue connectors.Outcome `json:"downstreamEnqueue"`
}

type processResponse struct {
	Status         string      `json:"status"`
	Service        string      `json:"service"`
	CorrelationID  string      `json:"correlationId"`
	DurationMillis int64       `json:"durationMillis"`
	Data           processData `json:"data"`
}

type statsResponse struct {
	Service string      `json:"service"`
	Stats   audit.Stats `json:"stats"`
}

type infoResponse struct {
	Service string `json:"service"`
	ServiceInfo
	Instrumentation []string `json:"instrumentation"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Detail  string `json:"detail,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// thirdPartyText: текст ответа или "unavailable".
func thirdPartyText(o connectors.Outcome) string {
	if !o.Available {
		return "unavailable"
	}
	if s, ok := o.Payload.(string); ok {
		return s
	}
	return "unavailable"
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	res, err := s.processor.Process(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set(connectors.HeaderCorrelationID, res.CorrelationID.String())
	writeJSON(w, http.StatusOK, processResponse{
		Status:         "success",
		Service:        s.opts.Service,
		CorrelationID:  res.CorrelationID.String(),
		DurationMillis: res.DurationMs,
		Data: processData{
			RecordID:          res.RecordID,
			RecentCount:       res.RecentCount,
			ThirdParty:        thirdPartyText(res.ThirdParty),
			DownstreamCompute: res.Compute,
			DownstreamEnqueue: res.Enqueue,
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), s.opts.StatsWindow)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Service: s.opts.Service, Stats: stats})
}

// handleHealth: readiness, хранилище аудита должно отвечать.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Service: s.opts.Service, Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Service: s.opts.Service})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Service:     s.opts.Service,
		ServiceInfo: s.opts.Info,
		Instrumentation: []string{
			"opentelemetry traces (pipeline, database, dependency spans)",
			"prometheus metrics (/metrics)",
			"zap structured logs with correlation_id",
		},
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, audit.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: err.Error()})
	case err != nil:
		s.writeError(w, statusFor(err), err)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleListDisabled(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"disabled": s.switches.Disabled()})
}

func (s *Server) handleSwitch(disabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "target")
		if !connectors.KnownTarget(target) {
			writeJSON(w, http.StatusNotFound, errorResponse{Detail: "unknown dependency: " + target})
			return
		}

		if err := s.switches.SetDisabled(r.Context(), target, disabled); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// statusFor: недоступность хранилища дает 503, остальное 500.
func statusFor(err error) int {
	if errors.Is(err, audit.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	var fatal *engine.FatalError
	if errors.As(err, &fatal) {
		s.logger.Error("request failed", zap.String("stage", string(fatal.Stage)), zap.Error(err))
	} else {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Detail: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
