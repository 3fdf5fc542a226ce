package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xela07ax/o11y-orchestrator/internal/connectors"
	"github.com/xela07ax/o11y-orchestrator/internal/infra"
)

func TestNewBreaker_ClientCancellationsDoNotTrip(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("Half measures are as bad as nothing at all."))
	}))
	defer srv.Close()

	cfg := infra.EngineConfig{CBMaxFailures: 5, CBTimeout: 30 * time.Second}
	cb := NewBreaker(connectors.TargetThirdParty, cfg, NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	client := connectors.NewThirdPartyClient(srv.URL, time.Second, 100, srv.Client(), cb)

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, client.Fetch(ctx).Available)
	}

	o := client.Fetch(context.Background())
	assert.True(t, o.Available, o.Reason)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestNewBreaker_CancelMidCallIsNotAFailure(t *testing.T) {
	cb := NewBreaker(connectors.TargetCompute, infra.EngineConfig{CBMaxFailures: 1}, nil, zap.NewNop())

	cancelled := &connectors.UnavailableError{
		Target: connectors.TargetCompute,
		Cause:  fmt.Errorf("Get \"http://compute/compute\": %w", context.Canceled),
	}
	for i := 0; i < 5; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, cancelled })
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
