package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации оркестратора.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Dependencies DependenciesConfig `mapstructure:"dependencies"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr собирает адрес для http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает хранилище аудита.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	URL             string        `mapstructure:"url"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectAttempts uint          `mapstructure:"connect_attempts"`
}

// RedisConfig описывает подключение к Redis (переключатели зависимостей).
// Пустой Addr: работаем без Redis, переключатели живут только в памяти процесса.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DependenciesConfig: адреса и таймауты внешних вызовов.
type DependenciesConfig struct {
	ThirdPartyURL     string        `mapstructure:"third_party_url"`
	ThirdPartyTimeout time.Duration `mapstructure:"third_party_timeout"`
	ThirdPartyMaxLen  int           `mapstructure:"third_party_max_len"`

	ComputeURL     string        `mapstructure:"compute_url"`
	ComputeTimeout time.Duration `mapstructure:"compute_timeout"`

	EnqueueURL     string        `mapstructure:"enqueue_url"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
	EnqueueMessage string        `mapstructure:"enqueue_message"`
}

// EngineConfig содержит настройки конвейера обработки.
type EngineConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	CountWindow     time.Duration `mapstructure:"count_window"`
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout"`

	// Входной лимит для /process, RateLimitRPS <= 0 выключает лимитер
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	// Настройки Circuit Breaker для каждой зависимости
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`

	// Зависимости, выключенные при первом старте (прогрев Redis)
	DisabledDependencies []string `mapstructure:"disabled_dependencies"`
}

// TelemetryConfig описывает ресурс и экспорт трасс.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	Namespace      string  `mapstructure:"namespace"`
	Environment    string  `mapstructure:"environment"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"` // пусто: трассы не экспортируются
	SampleRatio    float64 `mapstructure:"sample_ratio"`  // 0 выключает запись трасс, по умолчанию 1
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// DEPENDENCIES_COMPUTE_URL=... перекроет dependencies.compute_url
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate отсекает конфигурации, с которыми конвейер не сможет стартовать.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("config: database.url is required for postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}

	if c.Dependencies.ThirdPartyURL == "" || c.Dependencies.ComputeURL == "" || c.Dependencies.EnqueueURL == "" {
		return errors.New("config: all dependency urls must be set")
	}
	if c.Engine.CountWindow <= 0 {
		return errors.New("config: engine.count_window must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.connect_attempts", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("dependencies.third_party_url", "https://api.github.com/zen")
	v.SetDefault("dependencies.third_party_timeout", 5*time.Second)
	v.SetDefault("dependencies.third_party_max_len", 100)
	v.SetDefault("dependencies.compute_url", "http://service-d:8004")
	v.SetDefault("dependencies.compute_timeout", 10*time.Second)
	v.SetDefault("dependencies.enqueue_url", "http://service-b:8002")
	v.SetDefault("dependencies.enqueue_timeout", 10*time.Second)
	v.SetDefault("dependencies.enqueue_message", "Process request")

	v.SetDefault("engine.endpoint", "/process")
	v.SetDefault("engine.count_window", time.Hour)
	v.SetDefault("engine.finalize_timeout", 5*time.Second)
	v.SetDefault("engine.rate_limit_rps", 100)
	v.SetDefault("engine.rate_limit_burst", 20)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_max_failures", 5)
	v.SetDefault("engine.disabled_dependencies", []string{})

	v.SetDefault("telemetry.service_name", "orchestrator")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.namespace", "o11y-lab")
	v.SetDefault("telemetry.environment", "lab")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// bindLegacyEnv сохраняет совместимость с переменными старого docker-compose.
func bindLegacyEnv(v *viper.Viper) error {
	aliases := map[string][]string{
		"database.url":                 {"DATABASE_URL", "DB_URL"},
		"dependencies.third_party_url": {"DEPENDENCIES_THIRD_PARTY_URL", "THIRD_PARTY_API"},
		"dependencies.compute_url":     {"DEPENDENCIES_COMPUTE_URL", "SERVICE_D_URL"},
		"dependencies.enqueue_url":     {"DEPENDENCIES_ENQUEUE_URL", "SERVICE_B_URL"},
		"telemetry.otlp_endpoint":      {"TELEMETRY_OTLP_ENDPOINT", "OTEL_COLLECTOR_ENDPOINT"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("config: bind env for %s: %w", key, err)
		}
	}
	return nil
}
