package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/o11y-orchestrator/internal/connectors"
	"github.com/xela07ax/o11y-orchestrator/internal/infra"
)

// SwitchManager хранит набор зависимостей, выключенных оператором.
// Hot Path читает только локальную мапу; Redis (если есть): источник правды и шина сигналов.
type SwitchManager struct {
	mu       sync.RWMutex
	disabled map[string]struct{}
	seed     []string
	rdb      *redis.Client // nil: режим без Redis, состояние только в процессе
	logger   *zap.Logger
}

func NewSwitchManager(rdb *redis.Client, seed []string, logger *zap.Logger) *SwitchManager {
	return &SwitchManager{
		disabled: make(map[string]struct{}),
		seed:     seed,
		rdb:      rdb,
		logger:   logger.With(zap.String("mod", "switches")),
	}
}

// Init загружает текущее состояние при старте и при каждом переподключении.
func (m *SwitchManager) Init(ctx context.Context) error {
	if m.rdb == nil {
		for _, t := range m.seed {
			m.apply(t, true)
		}
		return nil
	}

	if err := WarmupState(ctx, m.rdb, m.logger, m.seed, infra.RedisKeyDisabledDependencies, infra.RedisKeyLockWarmupDisabled); err != nil {
		m.logger.Warn("dependency switch warm-up failed", zap.Error(err))
	}

	targets, err := m.rdb.SMembers(ctx, infra.RedisKeyDisabledDependencies).Result()
	if err != nil {
		return fmt.Errorf("switches: load disabled set: %w", err)
	}

	m.mu.Lock()
	m.disabled = make(map[string]struct{}, len(targets))
	for _, t := range targets {
		m.disabled[t] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// StartListener подписывается на сигналы переключения. Блокирует до отмены ctx.
func (m *SwitchManager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanDependencySwitch,
		func() error { return m.Init(ctx) },
		m.apply,
	)
}

// SetDisabled меняет состояние зависимости локально сразу, остальным инстансам через Redis.
func (m *SwitchManager) SetDisabled(ctx context.Context, target string, disabled bool) error {
	if !connectors.KnownTarget(target) {
		return fmt.Errorf("switches: unknown dependency %q", target)
	}

	if m.rdb != nil {
		pipe := m.rdb.TxPipeline()
		if disabled {
			pipe.SAdd(ctx, infra.RedisKeyDisabledDependencies, target)
		} else {
			pipe.SRem(ctx, infra.RedisKeyDisabledDependencies, target)
		}
		pipe.Publish(ctx, infra.RedisChanDependencySwitch, fmt.Sprintf("%s:%t", target, disabled))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("switches: redis update: %w", err)
		}
	}

	m.apply(target, disabled)
	m.logger.Info("dependency switch updated", zap.String("target", target), zap.Bool("disabled", disabled))
	return nil
}

func (m *SwitchManager) apply(target string, disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if disabled {
		m.disabled[target] = struct{}{}
	} else {
		delete(m.disabled, target)
	}
}

// IsDisabled: максимально быстрый метод для проверки в Hot Path
func (m *SwitchManager) IsDisabled(target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.disabled[target]
	return ok
}

// Disabled возвращает отсортированный список выключенных зависимостей.
func (m *SwitchManager) Disabled() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.disabled))
	for t := range m.disabled {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}
