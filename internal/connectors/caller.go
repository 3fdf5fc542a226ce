package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/xela07ax/o11y-orchestrator/internal/correlation"
)

// Ответы больше этого размера обрезаются при чтении.
const maxResponseBytes = 1 << 20

// HeaderCorrelationID: заголовок с идентификатором запроса для нижележащих сервисов.
const HeaderCorrelationID = "X-Correlation-ID"

// Breaker: то, что нужно клиенту от предохранителя (*gobreaker.CircuitBreaker подходит).
type Breaker interface {
	Execute(req func() (interface{}, error)) (interface{}, error)
}

type passBreaker struct{}

func (passBreaker) Execute(req func() (interface{}, error)) (interface{}, error) { return req() }

// caller делает ровно одну попытку под своим таймаутом и предохранителем.
type caller struct {
	target  string
	client  *http.Client
	timeout time.Duration
	breaker Breaker
}

func newCaller(target string, client *http.Client, timeout time.Duration, breaker Breaker) caller {
	if client == nil {
		client = http.DefaultClient
	}
	if breaker == nil {
		breaker = passBreaker{}
	}
	return caller{target: target, client: client, timeout: timeout, breaker: breaker}
}

// do выполняет запрос и возвращает тело 2xx-ответа. Любой другой исход: *UnavailableError.
func (c caller) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// Отмененный вызывающим запрос не доходит до предохранителя и не считается отказом зависимости
	if err := ctx.Err(); err != nil {
		return nil, &UnavailableError{Target: c.target, Cause: err}
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, &UnavailableError{Target: c.target, Cause: fmt.Errorf("build request: %w", err)}
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
		if id, err := correlation.Current(ctx); err == nil {
			req.Header.Set(HeaderCorrelationID, id.String())
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, &UnavailableError{Target: c.target, Cause: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, &UnavailableError{Target: c.target, Cause: fmt.Errorf("read body: %w", err)}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &UnavailableError{Target: c.target, StatusCode: resp.StatusCode, Cause: errors.New(http.StatusText(resp.StatusCode))}
		}
		return body, nil
	})
	if err != nil {
		var uErr *UnavailableError
		if errors.As(err, &uErr) {
			return nil, err
		}
		// Открытый предохранитель и прочее от Breaker
		return nil, &UnavailableError{Target: c.target, Cause: err}
	}

	return res.([]byte), nil
}
