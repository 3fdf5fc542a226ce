// Package correlation несет один идентификатор запроса через все шаги конвейера.
package correlation

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Length: длина идентификатора в hex-символах (как у W3C trace id).
const Length = 32

// ErrNoActiveContext: обращение к идентификатору вне области запроса.
var ErrNoActiveContext = errors.New("correlation: no active context")

// ID: неизменяемый идентификатор одного логического запроса.
type ID string

func (id ID) String() string { return string(id) }

type ctxKey struct{}

// Begin выдает новый ID и кладет его в контекст.
// Если в контексте записываемый span, берем его trace id, иначе генерируем случайный.
// Незаписываемый span (noop, чужой родитель) может нести чужой trace id, его не берем.
func Begin(ctx context.Context) (context.Context, ID) {
	var id ID
	if span := trace.SpanFromContext(ctx); span.IsRecording() && span.SpanContext().IsValid() {
		id = ID(span.SpanContext().TraceID().String())
	} else {
		id = ID(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return context.WithValue(ctx, ctxKey{}, id), id
}

// Current возвращает активный ID или ErrNoActiveContext.
func Current(ctx context.Context) (ID, error) {
	if id, ok := ctx.Value(ctxKey{}).(ID); ok && id != "" {
		return id, nil
	}
	return "", ErrNoActiveContext
}

// MustCurrent: для мест, где отсутствие ID является ошибкой программиста.
func MustCurrent(ctx context.Context) ID {
	id, err := Current(ctx)
	if err != nil {
		panic(err)
	}
	return id
}

// Valid проверяет формат: ровно Length символов в нижнем регистре hex.
func Valid(id ID) bool {
	if len(id) != Length {
		return false
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
