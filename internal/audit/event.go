package audit

import (
	"context"
	"errors"
	"time"
)

// Status: стадия жизненного цикла записи.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
)

var (
	// ErrStoreUnavailable: хранилище недоступно или запрос к нему упал.
	ErrStoreUnavailable = errors.New("audit: store unavailable")
	// ErrRecordNotFound: обновление записи, которой нет.
	ErrRecordNotFound = errors.New("audit: record not found")
	// ErrAlreadyCompleted: длительность уже проставлена, повторное завершение запрещено.
	ErrAlreadyCompleted = errors.New("audit: record already completed")
)

// Record: одна строка request_logs на один оркестрированный запрос.
type Record struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Endpoint      string    `json:"endpoint"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	DurationMs    *int64    `json:"duration_ms,omitempty"` // nil, пока запись не завершена
}

// Stats: агрегат по окну для /stats.
type Stats struct {
	TotalRequests int64    `json:"totalRequests"`
	AvgDurationMs *float64 `json:"avgDurationMillis"`
	MaxDurationMs *int64   `json:"maxDurationMillis"`
}

// Store: контракт хранилища аудита. Реализации безопасны для конкурентного использования.
type Store interface {
	// CreateStarted вставляет строку со status=started и возвращает ее id.
	CreateStarted(ctx context.Context, correlationID, endpoint string) (string, error)
	// CountRecent считает строки, созданные за последние window.
	CountRecent(ctx context.Context, window time.Duration) (int64, error)
	// CompleteRecord переводит строку в completed. Допускается ровно один раз.
	CompleteRecord(ctx context.Context, id string, durationMs int64) error
}

// StatsReader: чтение агрегатов для отчетов.
type StatsReader interface {
	Stats(ctx context.Context, window time.Duration) (Stats, error)
}

// RecordReader: поиск записи по id для операторов.
type RecordReader interface {
	Get(ctx context.Context, id string) (Record, error)
}
