package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "o11y"
)

// Ключи для Sets (состояние)
const (
	RedisKeyDisabledDependencies = RedisNamespace + ":dependencies:disabled_set"
	RedisKeyLockWarmupDisabled   = RedisNamespace + ":lock:warmup:dependencies"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanDependencySwitch: сигналы "target:true|false" о выключении зависимости.
	RedisChanDependencySwitch = RedisNamespace + ":dependencies:switch-signal"
)
