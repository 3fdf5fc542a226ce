package infra

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avast/retry-go/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"go.uber.org/zap"
)

// OpenDatabase открывает пул и ждет, пока Postgres станет доступен.
// Повторы только здесь, на старте процесса: в конвейере запросов повторов нет.
func OpenDatabase(ctx context.Context, cfg DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(retry.BackOffDelay),
	)

	attempt := 0
	err = r.Do(func() error {
		attempt++
		if pingErr := db.PingContext(ctx); pingErr != nil {
			logger.Warn("database not ready", zap.Int("attempt", attempt), zap.Error(pingErr))
			return pingErr
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: unreachable after %d attempts: %w", attempt, err)
	}

	logger.Info("database connected", zap.Int("attempts", attempt))
	return db, nil
}
