package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ComputeClient вызывает downstream compute: GET /compute?value=N.
type ComputeClient struct {
	caller
	baseURL string
	value   func() int
}

func NewComputeClient(baseURL string, timeout time.Duration, client *http.Client, breaker Breaker) *ComputeClient {
	return &ComputeClient{
		caller:  newCaller(TargetCompute, client, timeout, breaker),
		baseURL: strings.TrimRight(baseURL, "/"),
		value:   func() int { return rand.IntN(100) + 1 }, // [1, 100]
	}
}

// Compute отправляет псевдослучайное значение и возвращает JSON ответа как есть.
func (c *ComputeClient) Compute(ctx context.Context) Outcome {
	v := c.value()
	body, err := c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		q := url.Values{"value": []string{strconv.Itoa(v)}}
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/compute?"+q.Encode(), nil)
	})
	if err != nil {
		return FromError(c.target, err)
	}
	if !json.Valid(body) {
		return FromError(c.target, &UnavailableError{Target: c.target, Cause: errors.New("invalid json response")})
	}
	return Success(c.target, json.RawMessage(body))
}
