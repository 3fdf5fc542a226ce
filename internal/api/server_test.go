package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/xela07ax/o11y-orchestrator/internal/audit"
	"github.com/xela07ax/o11y-orchestrator/internal/connectors"
	"github.com/xela07ax/o11y-orchestrator/internal/engine"
)

type processorFunc func(ctx context.Context) (*engine.Result, error)

func (f processorFunc) Process(ctx context.Context) (*engine.Result, error) { return f(ctx) }

type fakeAudit struct {
	stats    audit.Stats
	statsErr error
	records  map[string]audit.Record
	getErr   error
	pingErr  error
}

func (f *fakeAudit) Stats(ctx context.Context, window time.Duration) (audit.Stats, error) {
	return f.stats, f.statsErr
}

func (f *fakeAudit) Get(ctx context.Context, id string) (audit.Record, error) {
	if f.getErr != nil {
		return audit.Record{}, f.getErr
	}
	rec, ok := f.records[id]
	if !ok {
		return audit.Record{}, fmt.Errorf("%w: %s", audit.ErrRecordNotFound, id)
	}
	return rec, nil
}

func (f *fakeAudit) Ping(ctx context.Context) error { return f.pingErr }

type ServerSuite struct {
	suite.Suite

	result   *engine.Result
	err      error
	audit    *fakeAudit
	switches *engine.SwitchManager
	registry *prometheus.Registry
	srv      *Server
}

func (s *ServerSuite) SetupTest() {
	s.result = &engine.Result{
		CorrelationID: "4bf92f3577b34da6a3ce929d0e0e4736",
		DurationMs:    42,
		RecordID:      "rec-1",
		RecentCount:   7,
		ThirdParty:    connectors.Success(connectors.TargetThirdParty, "Keep it logically awesome."),
		Compute:       connectors.Success(connectors.TargetCompute, json.RawMessage(`{"status":"success","results":{"sum":3}}`)),
		Enqueue:       connectors.Unavailable(connectors.TargetEnqueue, "enqueue: unexpected status 502"),
	}
	s.err = nil
	s.audit = &fakeAudit{records: map[string]audit.Record{}}
	s.switches = engine.NewSwitchManager(nil, nil, zap.NewNop())
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "smoke_total", Help: "smoke"}))

	s.srv = NewServer(zap.NewNop(),
		processorFunc(func(ctx context.Context) (*engine.Result, error) { return s.result, s.err }),
		s.audit,
		s.switches,
		Options{
			Service:  "orchestrator",
			Gatherer: s.registry,
			Info: ServiceInfo{
				Version: "1.0.0", Environment: "lab", Tracing: "local", SampleRatio: 1, Store: "memory", Switches: "local",
			},
		},
	)
}

func (s *ServerSuite) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.srv.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func (s *ServerSuite) TestProcess_Success() {
	rec := s.do(http.MethodGet, "/process")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("4bf92f3577b34da6a3ce929d0e0e4736", rec.Header().Get(connectors.HeaderCorrelationID))
	s.JSONEq(`{
		"status": "success",
		"service": "orchestrator",
		"correlationId": "4bf92f3577b34da6a3ce929d0e0e4736",
		"durationMillis": 42,
		"data": {
			"recordId": "rec-1",
			"recentCount": 7,
			"thirdParty": "Keep it logically awesome.",
			"downstreamCompute": {"status":"success","results":{"sum":3}},
			"downstreamEnqueue": {"error":"enqueue: unexpected status 502"}
		}
	}`, rec.Body.String())
}

func (s *ServerSuite) TestProcess_ThirdPartyUnavailable() {
	s.result.ThirdParty = connectors.Unavailable(connectors.TargetThirdParty, "timeout")
	rec := s.do(http.MethodGet, "/process")

	s.Equal(http.StatusOK, rec.Code)
	var body processResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("unavailable", body.Data.ThirdParty)
}

func (s *ServerSuite) TestProcess_StoreUnavailableIs503() {
	s.result = nil
	s.err = &engine.FatalError{
		Stage: engine.StagePersisting,
		Err:   fmt.Errorf("%w: insert request log: connection refused", audit.ErrStoreUnavailable),
	}
	rec := s.do(http.MethodGet, "/process")

	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.JSONEq(`{"detail":"audit: store unavailable: insert request log: connection refused"}`, rec.Body.String())
}

func (s *ServerSuite) TestProcess_OtherFatalIs500() {
	s.result = nil
	s.err = &engine.FatalError{Stage: engine.StagePersisting, Err: fmt.Errorf("boom")}
	rec := s.do(http.MethodGet, "/process")

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"detail":"boom"}`, rec.Body.String())
}

func (s *ServerSuite) TestStats() {
	avg, maxMs := 12.5, int64(30)
	s.audit.stats = audit.Stats{TotalRequests: 4, AvgDurationMs: &avg, MaxDurationMs: &maxMs}
	rec := s.do(http.MethodGet, "/stats")

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"service":"orchestrator","stats":{"totalRequests":4,"avgDurationMillis":12.5,"maxDurationMillis":30}}`, rec.Body.String())
}

func (s *ServerSuite) TestStats_StoreDown() {
	s.audit.statsErr = fmt.Errorf("%w: stats: timeout", audit.ErrStoreUnavailable)
	rec := s.do(http.MethodGet, "/stats")
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *ServerSuite) TestHealthAndMetrics() {
	rec := s.do(http.MethodGet, "/health")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"healthy","service":"orchestrator"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/metrics")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "smoke_total")
}

func (s *ServerSuite) TestHealth_StoreDownIsUnready() {
	s.audit.pingErr = fmt.Errorf("%w: ping: connection refused", audit.ErrStoreUnavailable)
	rec := s.do(http.MethodGet, "/health")

	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.JSONEq(`{"status":"unhealthy","service":"orchestrator","detail":"audit: store unavailable: ping: connection refused"}`, rec.Body.String())
}

func (s *ServerSuite) TestInfo() {
	rec := s.do(http.MethodGet, "/info")
	s.Equal(http.StatusOK, rec.Code)

	var body map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("orchestrator", body["service"])
	s.Equal("1.0.0", body["version"])
	s.Equal("local", body["tracing"])
	s.Equal("memory", body["store"])
	s.NotEmpty(body["instrumentation"])
}

func (s *ServerSuite) TestGetRecord() {
	d := int64(42)
	s.audit.records["rec-1"] = audit.Record{
		ID:            "rec-1",
		CorrelationID: "4bf92f3577b34da6a3ce929d0e0e4736",
		Endpoint:      "/process",
		Status:        audit.StatusCompleted,
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		DurationMs:    &d,
	}

	rec := s.do(http.MethodGet, "/v1/requests/rec-1")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{
		"id": "rec-1",
		"correlation_id": "4bf92f3577b34da6a3ce929d0e0e4736",
		"endpoint": "/process",
		"status": "completed",
		"created_at": "2026-03-01T10:00:00Z",
		"duration_ms": 42
	}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/v1/requests/missing")
	s.Equal(http.StatusNotFound, rec.Code)

	s.audit.getErr = fmt.Errorf("%w: get request log: timeout", audit.ErrStoreUnavailable)
	rec = s.do(http.MethodGet, "/v1/requests/rec-1")
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *ServerSuite) TestDependencySwitches() {
	rec := s.do(http.MethodPost, "/v1/dependencies/compute/disable")
	s.Equal(http.StatusNoContent, rec.Code)
	s.True(s.switches.IsDisabled(connectors.TargetCompute))

	rec = s.do(http.MethodGet, "/v1/dependencies")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"disabled":["compute"]}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/v1/dependencies/compute/enable")
	s.Equal(http.StatusNoContent, rec.Code)
	s.False(s.switches.IsDisabled(connectors.TargetCompute))

	rec = s.do(http.MethodPost, "/v1/dependencies/payments/disable")
	s.Equal(http.StatusNotFound, rec.Code)
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func TestProcess_RateLimited(t *testing.T) {
	calls := 0
	srv := NewServer(zap.NewNop(),
		processorFunc(func(ctx context.Context) (*engine.Result, error) {
			calls++
			return &engine.Result{CorrelationID: "00000000000000000000000000000001"}, nil
		}),
		&fakeAudit{}, nil,
		Options{Service: "orchestrator", Limiter: engine.NewLimiter(0.001, 1), Gatherer: prometheus.NewRegistry()},
	)

	first := httptest.NewRecorder()
	srv.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/process", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	srv.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/process", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, 1, calls)

	// лимит не касается служебных маршрутов
	health := httptest.NewRecorder()
	srv.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}
