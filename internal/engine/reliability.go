package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/o11y-orchestrator/internal/infra"
)

// NewBreaker собирает предохранитель для одной зависимости.
// Повторов нет: предохранитель только отсекает вызовы к зависимости, которая стабильно падает.
func NewBreaker(target string, cfg infra.EngineConfig, metrics *Metrics, logger *zap.Logger) *gobreaker.CircuitBreaker {
	maxFailures := cfg.CBMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.CBTimeout
	if timeout == 0 {
		timeout = 30 * time.Second // Время, через которое CB попробует "закрыться"
	}

	if metrics != nil {
		metrics.SetBreakerState(target, gobreaker.StateClosed)
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        target,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     timeout,
		// Клиент ушел посреди вызова: зависимость тут ни при чем
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("target", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if metrics != nil {
				metrics.SetBreakerState(name, to)
			}
		},
	})
}
